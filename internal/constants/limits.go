package constants

const (
	// IDRandomBytes is the number of random bytes behind every generated ID.
	IDRandomBytes = 12

	// DeviceTokenBytes is the entropy of a trusted-device bearer token.
	DeviceTokenBytes = 32

	VerificationTokenBytes  = 32
	PasswordResetTokenBytes = 32

	MaxRequestBodyBytes = 64 << 10

	OfferNoteMaxLength    = 500
	OfferMaxValidityHours = 720
	RejectReasonMaxLength = 500

	WSClientSendBufferSize = 64
)
