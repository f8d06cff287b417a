package domain

import (
	"fmt"
	"strings"
)

// ArmbandCode derives the printed wristband code for a patient identifier.
// It is recomputed after every restore so bands printed for a session keep
// matching the identifiers actually present in the workspace.
func ArmbandCode(patientID string) string {
	code := strings.ToUpper(strings.ReplaceAll(patientID, "-", ""))
	if len(code) > 8 {
		code = code[:8]
	}
	return fmt.Sprintf("HAC-%s", code)
}

// NewClinicalRegistry builds the registry for the hacCare managed entity
// set. The graph is rooted at patients; construction fails with a
// ConfigurationError if the descriptor set ever stops being a DAG.
func NewClinicalRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Entity:         EntityPatient,
			IdentityColumn: "id",
			TenantColumn:   "tenant_id",
			Derived: []DerivedColumn{{
				Column: "armband_code",
				Derive: func(row Row) any { return ArmbandCode(row.String("id")) },
			}},
			newRecord: func() any { return &Patient{} },
		},
		{
			Entity:         EntityPatientAlert,
			IdentityColumn: "id",
			TenantColumn:   "tenant_id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientAlert{} },
		},
		{
			Entity:         EntityPatientAllergy,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientAllergy{} },
		},
		{
			Entity:         EntityPatientVital,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientVital{} },
		},
		{
			Entity:         EntityPatientMedication,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientMedication{} },
		},
		{
			Entity:         EntityMedicationAdministration,
			IdentityColumn: "id",
			Parent:         EntityPatientMedication,
			ParentColumn:   "medication_id",
			ForeignKeys:    []ForeignKey{{Column: "patient_id", References: EntityPatient}},
			newRecord:      func() any { return &MedicationAdministration{} },
		},
		{
			Entity:         EntityPatientNote,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientNote{} },
		},
		{
			Entity:         EntityDoctorsOrder,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &DoctorsOrder{} },
		},
		{
			Entity:         EntityLabPanel,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &LabPanel{} },
		},
		{
			Entity:         EntityLabResult,
			IdentityColumn: "id",
			Parent:         EntityLabPanel,
			ParentColumn:   "panel_id",
			ForeignKeys:    []ForeignKey{{Column: "patient_id", References: EntityPatient}},
			newRecord:      func() any { return &LabResult{} },
		},
		{
			Entity:         EntityImagingStudy,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &ImagingStudy{} },
		},
		{
			Entity:         EntityWoundAssessment,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &WoundAssessment{} },
		},
		{
			Entity:         EntityWoundTreatment,
			IdentityColumn: "id",
			Parent:         EntityWoundAssessment,
			ParentColumn:   "assessment_id",
			newRecord:      func() any { return &WoundTreatment{} },
		},
		{
			Entity:         EntityPatientDevice,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &PatientDevice{} },
		},
		{
			Entity:         EntityDeviceObservation,
			IdentityColumn: "id",
			Parent:         EntityPatientDevice,
			ParentColumn:   "device_id",
			newRecord:      func() any { return &DeviceObservation{} },
		},
		{
			Entity:         EntityDiabeticRecord,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &DiabeticRecord{} },
		},
		{
			Entity:         EntityBowelRecord,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &BowelRecord{} },
		},
		{
			Entity:         EntityHandoverNote,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &HandoverNote{} },
		},
		{
			Entity:         EntityAdvancedDirective,
			IdentityColumn: "id",
			Parent:         EntityPatient,
			ParentColumn:   "patient_id",
			newRecord:      func() any { return &AdvancedDirective{} },
		},
	})
}
