package httpapi

import "github.com/MrEthical07/authgate"

type existsResponse struct {
	Exists bool `json:"exists"`
}

type passwordStatusResponse struct {
	PasswordSet bool `json:"passwordSet"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type loginResponse struct {
	Token    string          `json:"token"`
	ID       authgate.UserID `json:"id"`
	Username string          `json:"username"`
	Role     string          `json:"role"`
	Message  string          `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}
