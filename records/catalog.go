package records

import (
	"strconv"
	"strings"

	"github.com/sweetpotato0/medrag/tool"
)

// Operation names. Every operation is a read-only GET.
const (
	OpGetPatientByID       = "get_patient_by_id"
	OpGetAllPatients       = "get_all_patients"
	OpGetDoctorByID        = "get_doctor_by_id"
	OpGetAllDoctors        = "get_all_doctors"
	OpGetStudyByID         = "get_study_by_id"
	OpGetAllStudies        = "get_all_studies"
	OpGetDoctorsForPatient = "get_doctors_for_patient"
	OpGetStudiesForPatient = "get_studies_for_patient"
	OpGetStudiesForDoctor  = "get_studies_for_doctor"
)

// Operation describes one named call against the record service.
type Operation struct {
	Name        string
	Description string
	// Path is the endpoint template; "{id}" is replaced by Param's value.
	Path string
	// Param is the single integer argument, empty for list operations.
	Param            string
	ParamDescription string
}

var catalog = []Operation{
	{Name: OpGetPatientByID, Description: "Get patient details by patient ID.", Path: "/patient/{id}", Param: "patient_id", ParamDescription: "The ID of the patient"},
	{Name: OpGetAllPatients, Description: "Get a list of all patients.", Path: "/patients"},
	{Name: OpGetAllDoctors, Description: "Get a list of all doctors.", Path: "/doctors"},
	{Name: OpGetDoctorByID, Description: "Get doctor details by doctor ID.", Path: "/doctor/{id}", Param: "doctor_id", ParamDescription: "The ID of the doctor"},
	{Name: OpGetAllStudies, Description: "Get a list of all studies.", Path: "/studies"},
	{Name: OpGetStudyByID, Description: "Get study details by study ID.", Path: "/study/{id}", Param: "study_id", ParamDescription: "The ID of the study"},
	{Name: OpGetDoctorsForPatient, Description: "Get all doctors associated with a specific patient.", Path: "/patient/{id}/doctors", Param: "patient_id", ParamDescription: "The ID of the patient"},
	{Name: OpGetStudiesForPatient, Description: "Get all studies for a specific patient.", Path: "/patient/{id}/studies", Param: "patient_id", ParamDescription: "The ID of the patient"},
	{Name: OpGetStudiesForDoctor, Description: "Get all studies conducted by a specific doctor.", Path: "/doctor/{id}/studies", Param: "doctor_id", ParamDescription: "The ID of the doctor"},
}

var byName = func() map[string]Operation {
	m := make(map[string]Operation, len(catalog))
	for _, op := range catalog {
		m[op.Name] = op
	}
	return m
}()

// Catalog returns every operation in a stable order.
func Catalog() []Operation {
	out := make([]Operation, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds an operation by name.
func Lookup(name string) (Operation, bool) {
	op, ok := byName[name]
	return op, ok
}

// Endpoint renders the request path for id. List operations ignore id.
func (o Operation) Endpoint(id int) string {
	if o.Param == "" {
		return o.Path
	}
	return strings.Replace(o.Path, "{id}", strconv.Itoa(id), 1)
}

// Parameters returns the tool parameters describing the operation's input.
func (o Operation) Parameters() []tool.Parameter {
	if o.Param == "" {
		return nil
	}
	return []tool.Parameter{{
		Name:        o.Param,
		Type:        "integer",
		Description: o.ParamDescription,
		Required:    true,
	}}
}
