package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sweetpotato0/medrag/config"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/pkg/logging"
)

// cli carries state resolved by the root command to its subcommands.
type cli struct {
	configPath string
	envFile    string
	verbose    bool
	cfg        *config.Config
}

// NewRootCmd creates the root medrag command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "medrag",
		Short:         "medrag answers healthcare questions from documents and records",
		Long:          "medrag routes each question to document search, the patient/doctor/study record service, or a direct reply, and cites the documents it used.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newAskCmd(c),
		newChatCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
		newIndexCmd(c),
		newRecordsCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return medragerr.Wrapf(err, medragerr.CodeCLISetupFailure, "loading %s", c.envFile)
		}
	}

	level := logging.ParseLevel(os.Getenv("MEDRAG_LOG_LEVEL"))
	if c.verbose {
		level = slog.LevelDebug
	}
	// stdout belongs to answers and the MCP stdio transport
	logging.SetLogger(logging.New(logging.Options{
		Writer: cmd.ErrOrStderr(),
		Format: os.Getenv("MEDRAG_LOG_FORMAT"),
		Level:  level,
	}))

	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the medrag version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte("medrag " + version + "\n"))
			return err
		},
	}
}
