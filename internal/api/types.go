package api

import "encoding/json"

// Envelope is the backend's standard response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// LoginData is the payload returned by a successful login.
type LoginData struct {
	Token     string `json:"token"`
	PatientID string `json:"patient_id"`
}

// PatientDetails is the dashboard's patient block.
type PatientDetails struct {
	PatientID   string `json:"patient_id"`
	Email       string `json:"patient_email"`
	Mobile      string `json:"patient_mobile"`
	CountryCode string `json:"patient_country_code"`
	Title       string `json:"relation_title"`
	FirstName   string `json:"relation_first_name"`
	Surname     string `json:"relation_sur_name"`
	DateOfBirth string `json:"relation_dob"`
	Gender      string `json:"relation_gender"`
}

// Prescription is a dashboard prescription entry.
type Prescription struct {
	PrescriptionID string `json:"prescription_id"`
	Code           string `json:"prescription_code"`
	CreatedAt      string `json:"prescription_created_at"`
	Status         string `json:"prescription_status"`
	PrescriberName string `json:"prescriber_first_name"`
	PharmacyName   string `json:"pharmacy_name,omitempty"`
}

// DashboardData is the payload of the dashboard fetch.
type DashboardData struct {
	Prescription       *Prescription  `json:"prescription,omitempty"`
	OtherPrescriptions []Prescription `json:"other_prescription,omitempty"`
	PatientDetails     PatientDetails `json:"patientDetails"`
}

type checkEmailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type deviceTokenRequest struct {
	FCMToken string `json:"fcm_token"`
	DeviceID string `json:"device_id"`
}
