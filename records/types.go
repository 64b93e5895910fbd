package records

// Patient is a row of the record service's patients table.
type Patient struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Age           int     `json:"age"`
	Gender        string  `json:"gender"`
	Diagnosis     string  `json:"diagnosis"`
	ContactNumber string  `json:"contact_number"`
	Email         string  `json:"email"`
	AdmissionDate string  `json:"admission_date"`
	DischargeDate *string `json:"discharge_date,omitempty"`
}

// Doctor is a row of the doctors table. Each doctor belongs to one patient.
type Doctor struct {
	ID             int    `json:"id"`
	DoctorName     string `json:"doctor_name"`
	Designation    string `json:"designation"`
	Specialization string `json:"specialization"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	PatientID      int    `json:"patient_id"`
}

// Study is a diagnostic study linking a patient and a doctor.
type Study struct {
	StudyID   int    `json:"study_id"`
	PatientID int    `json:"patient_id"`
	DoctorID  int    `json:"doctor_id"`
	StudyType string `json:"study_type"`
	StudyDate string `json:"study_date"`
	Findings  string `json:"findings"`
}
