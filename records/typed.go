package records

import (
	"context"
	"encoding/json"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

func call[T any](ctx context.Context, inv Invoker, operation string, args map[string]any) (T, error) {
	var out T
	raw, err := inv.Invoke(ctx, operation, args)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, medragerr.Wrap(err, medragerr.CodeRecordsResponseInvalid, "decode "+operation,
			medragerr.FieldOperation(operation))
	}
	return out, nil
}

// GetPatient fetches one patient.
func GetPatient(ctx context.Context, inv Invoker, id int) (*Patient, error) {
	return call[*Patient](ctx, inv, OpGetPatientByID, map[string]any{"patient_id": id})
}

// ListPatients fetches every patient.
func ListPatients(ctx context.Context, inv Invoker) ([]Patient, error) {
	return call[[]Patient](ctx, inv, OpGetAllPatients, nil)
}

// GetDoctor fetches one doctor.
func GetDoctor(ctx context.Context, inv Invoker, id int) (*Doctor, error) {
	return call[*Doctor](ctx, inv, OpGetDoctorByID, map[string]any{"doctor_id": id})
}

// ListDoctors fetches every doctor.
func ListDoctors(ctx context.Context, inv Invoker) ([]Doctor, error) {
	return call[[]Doctor](ctx, inv, OpGetAllDoctors, nil)
}

// GetStudy fetches one study.
func GetStudy(ctx context.Context, inv Invoker, id int) (*Study, error) {
	return call[*Study](ctx, inv, OpGetStudyByID, map[string]any{"study_id": id})
}

// ListStudies fetches every study.
func ListStudies(ctx context.Context, inv Invoker) ([]Study, error) {
	return call[[]Study](ctx, inv, OpGetAllStudies, nil)
}

// DoctorsForPatient lists the doctors attached to a patient.
func DoctorsForPatient(ctx context.Context, inv Invoker, patientID int) ([]Doctor, error) {
	return call[[]Doctor](ctx, inv, OpGetDoctorsForPatient, map[string]any{"patient_id": patientID})
}

// StudiesForPatient lists a patient's studies.
func StudiesForPatient(ctx context.Context, inv Invoker, patientID int) ([]Study, error) {
	return call[[]Study](ctx, inv, OpGetStudiesForPatient, map[string]any{"patient_id": patientID})
}

// StudiesForDoctor lists the studies a doctor conducted.
func StudiesForDoctor(ctx context.Context, inv Invoker, doctorID int) ([]Study, error) {
	return call[[]Study](ctx, inv, OpGetStudiesForDoctor, map[string]any{"doctor_id": doctorID})
}
