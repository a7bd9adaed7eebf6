package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: User & Auth errors
// 12000-12999: Problem catalog errors
// 13000-13999: Submission & Judge pipeline errors
// 14000-14999: Statistics & Leaderboard errors
// 15000-15999: Recommendation errors
// 16000-16999: AI feedback errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage errors (10400-10499)
	StorageError    ErrorCode = 10400
	ObjectNotFound  ErrorCode = 10401
	ObjectPutFailed ErrorCode = 10402
	ObjectTooLarge  ErrorCode = 10403

	// ========== User & Auth Errors (11000-11999) ==========

	// Authentication (11000-11099)
	InvalidCredentials    ErrorCode = 11000
	UserNotFound          ErrorCode = 11001
	PasswordIncorrect     ErrorCode = 11002
	TokenExpired          ErrorCode = 11003
	TokenInvalid          ErrorCode = 11004
	TokenGenerationFailed ErrorCode = 11005
	AccountSuspended      ErrorCode = 11006
	AccountNotActivated   ErrorCode = 11007

	// Registration (11100-11199)
	UsernameAlreadyExists ErrorCode = 11100
	EmailAlreadyExists    ErrorCode = 11101
	InvalidUsername       ErrorCode = 11102
	InvalidEmail          ErrorCode = 11103
	InvalidPassword       ErrorCode = 11104
	PasswordTooWeak       ErrorCode = 11105

	// ========== Problem Catalog Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound     ErrorCode = 12000
	ProblemAccessDenied ErrorCode = 12001
	ProblemCreateFailed ErrorCode = 12002
	ProblemUpdateFailed ErrorCode = 12003
	ProblemNotPublished ErrorCode = 12004
	ProblemDeleteFailed ErrorCode = 12005

	// Test cases (12100-12199)
	TestCaseNotFound   ErrorCode = 12100
	TestCaseInvalid    ErrorCode = 12101
	TestCaseSetEmpty   ErrorCode = 12102
	TestCaseTooLarge   ErrorCode = 12103
	DataPackPutFailed  ErrorCode = 12104
	DataPackLoadFailed ErrorCode = 12105
	DataPackCorrupt    ErrorCode = 12106

	// Tags (12200-12299)
	TagNotFound ErrorCode = 12200
	InvalidTag  ErrorCode = 12201
	TooManyTags ErrorCode = 12202

	// ========== Submission & Judge Pipeline Errors (13000-13999) ==========

	// Submission intake (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	SubmissionNotOwned     ErrorCode = 13005

	// Judge (13100-13199)
	JudgeQueueFull        ErrorCode = 13100
	JudgeSystemError      ErrorCode = 13101
	ExecutorUnavailable   ErrorCode = 13102
	ExecutionFailed       ErrorCode = 13103
	StatusNotFound        ErrorCode = 13104
	SubmissionAlreadyDone ErrorCode = 13105

	// ========== Statistics & Leaderboard Errors (14000-14999) ==========

	StatsNotFound        ErrorCode = 14000
	StatsUpdateFailed    ErrorCode = 14001
	StatsAlreadyRecorded ErrorCode = 14002
	LeaderboardError     ErrorCode = 14100

	// ========== Recommendation Errors (15000-15999) ==========

	RecommendationFailed ErrorCode = 15000

	// ========== AI Feedback Errors (16000-16999) ==========

	FeedbackUnavailable ErrorCode = 16000
	FeedbackParseFailed ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Storage
	StorageError:    "Object storage operation failed",
	ObjectNotFound:  "Object not found in storage",
	ObjectPutFailed: "Failed to store object",
	ObjectTooLarge:  "Object is too large",

	// User - Authentication
	InvalidCredentials:    "Invalid username or password",
	UserNotFound:          "User not found",
	PasswordIncorrect:     "Incorrect password",
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	TokenGenerationFailed: "Failed to generate token",
	AccountSuspended:      "Account is suspended",
	AccountNotActivated:   "Account is not activated yet",

	// User - Registration
	UsernameAlreadyExists: "Username already exists",
	EmailAlreadyExists:    "Email already exists",
	InvalidUsername:       "Invalid username format",
	InvalidEmail:          "Invalid email format",
	InvalidPassword:       "Invalid password format",
	PasswordTooWeak:       "Password is too weak",

	// Problem
	ProblemNotFound:     "Problem not found",
	ProblemAccessDenied: "Access to this problem is denied",
	ProblemCreateFailed: "Failed to create problem",
	ProblemUpdateFailed: "Failed to update problem",
	ProblemNotPublished: "Problem is not published yet",
	ProblemDeleteFailed: "Failed to delete problem",

	// Test cases
	TestCaseNotFound:   "Test case not found",
	TestCaseInvalid:    "Invalid test case format",
	TestCaseSetEmpty:   "Problem has no test cases",
	TestCaseTooLarge:   "Test case is too large",
	DataPackPutFailed:  "Failed to store test data pack",
	DataPackLoadFailed: "Failed to load test data pack",
	DataPackCorrupt:    "Test data pack is corrupt",

	// Tags
	TagNotFound: "Tag not found",
	InvalidTag:  "Invalid tag",
	TooManyTags: "Too many tags",

	// Submission intake
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionNotOwned:     "Submission belongs to another user",

	// Judge
	JudgeQueueFull:        "Judge queue is full, please try again later",
	JudgeSystemError:      "Judge system error",
	ExecutorUnavailable:   "Execution backend is unavailable",
	ExecutionFailed:       "Execution backend failed to run the submission",
	StatusNotFound:        "Submission status not found",
	SubmissionAlreadyDone: "Submission has already been graded",

	// Statistics & Leaderboard
	StatsNotFound:        "Statistics not found",
	StatsUpdateFailed:    "Failed to update statistics",
	StatsAlreadyRecorded: "Submission already recorded in statistics",
	LeaderboardError:     "Leaderboard operation failed",

	// Recommendation
	RecommendationFailed: "Failed to build recommendations",

	// AI feedback
	FeedbackUnavailable: "AI feedback is temporarily unavailable",
	FeedbackParseFailed: "Failed to parse AI feedback response",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid,
		c == InvalidCredentials, c == PasswordIncorrect:
		return 401
	case c == Forbidden, c == ProblemAccessDenied, c == SubmissionNotOwned,
		c == AccountSuspended, c == AccountNotActivated:
		return 403
	case c == NotFound, c == RecordNotFound, c == UserNotFound, c == ProblemNotFound,
		c == SubmissionNotFound, c == StatusNotFound, c == StatsNotFound,
		c == ObjectNotFound, c == TestCaseNotFound, c == TagNotFound:
		return 404
	case c == RecordAlreadyExists, c == UsernameAlreadyExists, c == EmailAlreadyExists:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == ExecutorUnavailable, c == JudgeQueueFull,
		c == FeedbackUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= ValidationFailed && c <= RequiredFieldEmpty:
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported,
		c == TestCaseSetEmpty, c == TestCaseInvalid, c == InvalidUsername,
		c == InvalidEmail, c == InvalidPassword, c == PasswordTooWeak,
		c == InvalidTag, c == TooManyTags:
		return 400
	default:
		return 500
	}
}
