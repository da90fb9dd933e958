package api

type registerRequest struct {
	SessionID  string `json:"sessionId"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
}

type validateRequest struct {
	SessionID string `json:"sessionId"`
}

type registerResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

type validateResponse struct {
	Valid  bool `json:"valid"`
	Kicked bool `json:"kicked"`
}
