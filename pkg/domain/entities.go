// Package domain defines the managed clinical entity model, the snapshot and
// identifier-mapping value types, and the persistence contracts used by the
// scenario engine.
package domain

import "time"

// EntityType identifies a managed clinical entity. Values double as the
// snapshot document keys and the row-store bucket names.
type EntityType string

// Managed entity identifiers. The set is closed: rows of any other shape are
// never captured or restored.
const (
	// EntityPatient is the root of the managed entity graph.
	EntityPatient EntityType = "patients"
	// EntityPatientAlert is tenant-scoped directly in addition to its
	// patient reference, so alert rows can outlive patient filtering rules
	// applied by the documentation subsystem.
	EntityPatientAlert             EntityType = "patient_alerts"
	EntityPatientAllergy           EntityType = "patient_allergies"
	EntityPatientVital             EntityType = "patient_vitals"
	EntityPatientMedication        EntityType = "patient_medications"
	EntityMedicationAdministration EntityType = "medication_administrations"
	EntityPatientNote              EntityType = "patient_notes"
	EntityDoctorsOrder             EntityType = "doctors_orders"
	EntityLabPanel                 EntityType = "lab_panels"
	EntityLabResult                EntityType = "lab_results"
	EntityImagingStudy             EntityType = "imaging_studies"
	EntityWoundAssessment          EntityType = "wound_assessments"
	EntityWoundTreatment           EntityType = "wound_treatments"
	EntityPatientDevice            EntityType = "patient_devices"
	EntityDeviceObservation        EntityType = "device_observations"
	EntityDiabeticRecord           EntityType = "diabetic_records"
	EntityBowelRecord              EntityType = "bowel_records"
	EntityHandoverNote             EntityType = "handover_notes"
	EntityAdvancedDirective        EntityType = "advanced_directives"
)

// WorkspaceStatus enumerates lifecycle states tracked by the controller.
type WorkspaceStatus string

// Canonical workspace lifecycle states.
const (
	WorkspacePending   WorkspaceStatus = "pending"
	WorkspaceRunning   WorkspaceStatus = "running"
	WorkspacePaused    WorkspaceStatus = "paused"
	WorkspaceCompleted WorkspaceStatus = "completed"
)

// Workspace is an isolated namespace holding at most one live instance of
// restored clinical rows. The namespace itself is provisioned and destroyed
// by the tenancy subsystem; the engine only reads and writes rows inside it
// and tracks its lifecycle status.
type Workspace struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	TemplateID string          `json:"template_id,omitempty"`
	Status     WorkspaceStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Patient is the root managed record. ArmbandCode is read-only and derived
// from the patient identifier after restore so printed wristbands match the
// identifiers actually present in the workspace.
type Patient struct {
	ID                    string     `json:"id"`
	TenantID              string     `json:"tenant_id"`
	FirstName             string     `json:"first_name"`
	LastName              string     `json:"last_name"`
	DateOfBirth           string     `json:"date_of_birth"`
	Gender                string     `json:"gender,omitempty"`
	RoomNumber            string     `json:"room_number,omitempty"`
	BedNumber             string     `json:"bed_number,omitempty"`
	BloodType             string     `json:"blood_type,omitempty"`
	Diagnosis             string     `json:"diagnosis,omitempty"`
	Condition             string     `json:"condition,omitempty"`
	AdmissionDate         *time.Time `json:"admission_date,omitempty"`
	ArmbandCode           string     `json:"armband_code,omitempty"`
	EmergencyContactName  string     `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string     `json:"emergency_contact_phone,omitempty"`
	AssignedNurse         string     `json:"assigned_nurse,omitempty"`
}

// PatientAlert is a tenant-scoped alert banner attached to a patient.
type PatientAlert struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	PatientID    string     `json:"patient_id"`
	AlertType    string     `json:"alert_type"`
	Message      string     `json:"message"`
	Priority     string     `json:"priority,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// PatientAllergy records a known allergen and expected reaction.
type PatientAllergy struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Allergen  string `json:"allergen"`
	Reaction  string `json:"reaction,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// PatientVital is a single vital-signs observation.
type PatientVital struct {
	ID                     string    `json:"id"`
	PatientID              string    `json:"patient_id"`
	RecordedAt             time.Time `json:"recorded_at"`
	Temperature            float64   `json:"temperature,omitempty"`
	HeartRate              int       `json:"heart_rate,omitempty"`
	RespiratoryRate        int       `json:"respiratory_rate,omitempty"`
	BloodPressureSystolic  int       `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic int       `json:"blood_pressure_diastolic,omitempty"`
	OxygenSaturation       float64   `json:"oxygen_saturation,omitempty"`
}

// PatientMedication is a prescribed medication order.
type PatientMedication struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patient_id"`
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage,omitempty"`
	Route        string     `json:"route,omitempty"`
	Frequency    string     `json:"frequency,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	PrescribedBy string     `json:"prescribed_by,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// MedicationAdministration logs one administration against a medication
// order. It carries both the medication and patient references; the patient
// reference exists so administration history survives medication archival in
// the documentation subsystem.
type MedicationAdministration struct {
	ID             string    `json:"id"`
	MedicationID   string    `json:"medication_id"`
	PatientID      string    `json:"patient_id"`
	AdministeredAt time.Time `json:"administered_at"`
	AdministeredBy string    `json:"administered_by,omitempty"`
	DoseGiven      string    `json:"dose_given,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// PatientNote is free-form clinical documentation.
type PatientNote struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	NoteType  string    `json:"note_type,omitempty"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DoctorsOrder captures a provider order awaiting or past execution.
type DoctorsOrder struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	OrderType   string    `json:"order_type,omitempty"`
	Description string    `json:"description"`
	OrderedBy   string    `json:"ordered_by,omitempty"`
	OrderedAt   time.Time `json:"ordered_at"`
	Status      string    `json:"status,omitempty"`
}

// LabPanel groups ordered lab tests.
type LabPanel struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	PanelName string    `json:"panel_name"`
	OrderedAt time.Time `json:"ordered_at"`
	Status    string    `json:"status,omitempty"`
}

// LabResult is a single resulted test within a panel.
type LabResult struct {
	ID             string     `json:"id"`
	PanelID        string     `json:"panel_id"`
	PatientID      string     `json:"patient_id"`
	TestName       string     `json:"test_name"`
	Value          string     `json:"value,omitempty"`
	Unit           string     `json:"unit,omitempty"`
	ReferenceRange string     `json:"reference_range,omitempty"`
	Flag           string     `json:"flag,omitempty"`
	ResultedAt     *time.Time `json:"resulted_at,omitempty"`
}

// ImagingStudy records an imaging order and its impression.
type ImagingStudy struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patient_id"`
	Modality    string     `json:"modality"`
	BodyPart    string     `json:"body_part,omitempty"`
	Status      string     `json:"status,omitempty"`
	Impression  string     `json:"impression,omitempty"`
	PerformedAt *time.Time `json:"performed_at,omitempty"`
}

// WoundAssessment documents a wound site at a point in time.
type WoundAssessment struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Location   string    `json:"location"`
	Stage      string    `json:"stage,omitempty"`
	LengthCM   float64   `json:"length_cm,omitempty"`
	WidthCM    float64   `json:"width_cm,omitempty"`
	DepthCM    float64   `json:"depth_cm,omitempty"`
	AssessedAt time.Time `json:"assessed_at"`
	AssessedBy string    `json:"assessed_by,omitempty"`
}

// WoundTreatment logs care applied to an assessed wound.
type WoundTreatment struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	Treatment    string    `json:"treatment"`
	DressingType string    `json:"dressing_type,omitempty"`
	PerformedBy  string    `json:"performed_by,omitempty"`
	PerformedAt  time.Time `json:"performed_at"`
}

// PatientDevice marks an indwelling device (IV, catheter, drain).
type PatientDevice struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"`
	DeviceType string     `json:"device_type"`
	Site       string     `json:"site,omitempty"`
	InsertedAt *time.Time `json:"inserted_at,omitempty"`
	InsertedBy string     `json:"inserted_by,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// DeviceObservation is a site check against an indwelling device.
type DeviceObservation struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	ObservedAt    time.Time `json:"observed_at"`
	SiteCondition string    `json:"site_condition,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// DiabeticRecord is a glucose reading with any insulin given.
type DiabeticRecord struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	RecordedAt   time.Time `json:"recorded_at"`
	GlucoseMmol  float64   `json:"glucose_mmol"`
	ReadingType  string    `json:"reading_type,omitempty"`
	InsulinUnits float64   `json:"insulin_units,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// BowelRecord is a continence chart entry.
type BowelRecord struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	RecordedAt   time.Time `json:"recorded_at"`
	BristolScale int       `json:"bristol_scale,omitempty"`
	Volume       string    `json:"volume,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// HandoverNote is an SBAR handover entry.
type HandoverNote struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	Shift          string    `json:"shift,omitempty"`
	Situation      string    `json:"situation,omitempty"`
	Background     string    `json:"background,omitempty"`
	Assessment     string    `json:"assessment,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdvancedDirective captures code status and directive documents on file.
type AdvancedDirective struct {
	ID            string     `json:"id"`
	PatientID     string     `json:"patient_id"`
	DirectiveType string     `json:"directive_type"`
	CodeStatus    string     `json:"code_status,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}
