package errs

import "errors"

// Friendly is the title/message/action triple shown to a user for a failure.
type Friendly struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

var friendlyMessages = map[Code]Friendly{
	CodeRequestExists: {
		Title:   "Request Already Sent",
		Message: "You have already sent a connection request to this person.",
		Action:  "OK",
	},
	CodeSelfRequest: {
		Title:   "Cannot Connect to Yourself",
		Message: "You cannot send a connection request to yourself.",
		Action:  "OK",
	},
	CodeNotFound: {
		Title:   "Connection Not Found",
		Message: "This connection request could not be found. It may have been deleted.",
		Action:  "OK",
	},
	CodeUnauthorized: {
		Title:   "Unauthorized Action",
		Message: "You are not authorized to perform this action on this connection.",
		Action:  "OK",
	},
	CodeInvalidTransition: {
		Title:   "Request Already Handled",
		Message: "This connection request has already been processed.",
		Action:  "OK",
	},
	CodeNotConnected: {
		Title:   "Not Connected Yet",
		Message: "You can chat once your connection request has been accepted.",
		Action:  "OK",
	},
	CodeOffline: {
		Title:   "You're Offline",
		Message: "Please check your internet connection and try again.",
		Action:  "Try Again",
	},
	CodeTimeout: {
		Title:   "Request Timeout",
		Message: "The request took too long to complete. Please try again.",
		Action:  "Try Again",
	},
	CodeServerError: {
		Title:   "Server Error",
		Message: "Our servers are experiencing issues. Please try again in a few moments.",
		Action:  "Try Again",
	},
	CodeInvalidInput: {
		Title:   "Invalid Input",
		Message: "Please check your input and try again.",
		Action:  "OK",
	},
	CodeRequiredField: {
		Title:   "Required Field",
		Message: "Please fill in all required fields.",
		Action:  "OK",
	},
	CodeInvalidCredential: {
		Title:   "Incorrect Password or Email",
		Message: "The email or password you entered is incorrect. Please try again or reset your password.",
		Action:  "Try Again",
	},
	CodeEmailInUse: {
		Title:   "Email Already Registered",
		Message: "An account with this email already exists. Please sign in instead or use a different email.",
		Action:  "Sign In",
	},
	CodeUnauthenticated: {
		Title:   "Sign In Required",
		Message: "Your session has expired. Please sign in again.",
		Action:  "Sign In",
	},
	CodePermissionDenied: {
		Title:   "Permission Denied",
		Message: "You don't have permission to perform this action.",
		Action:  "OK",
	},
	CodeUnknown: {
		Title:   "Something Went Wrong",
		Message: "An unexpected error occurred. Please try again.",
		Action:  "Try Again",
	},
}

// FriendlyFor returns the triple for code, falling back to the unknown-error entry.
func FriendlyFor(code Code) Friendly {
	if f, ok := friendlyMessages[code]; ok {
		return f
	}
	return friendlyMessages[CodeUnknown]
}

// FriendlyOf classifies err and returns its triple.
func FriendlyOf(err error) Friendly {
	return FriendlyFor(CodeOf(err))
}

// Alert is the full user-facing description of a failure.
type Alert struct {
	Code Code `json:"code"`
	Friendly
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

// AlertOf builds the Alert for err.
func AlertOf(err error) Alert {
	code := CodeOf(err)
	a := Alert{
		Code:      code,
		Friendly:  FriendlyFor(code),
		Retryable: retryable[code],
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		a.Detail = ce.Detail
	}
	return a
}
