package bot

import (
	"errors"

	"github.com/tonimelisma/remarkable-relay/internal/remarkable"
	"github.com/tonimelisma/remarkable-relay/internal/transfer"
)

// Sentinel errors for interactions that end in a fixed reply.
var (
	ErrUnsupportedAttachment = errors.New("bot: attachment is not a PDF")
	ErrAttachmentTooLarge    = errors.New("bot: attachment exceeds size limit")
	ErrMalformedCommandArgs  = errors.New("bot: malformed command arguments")
)

// usageError is a malformed-arguments error carrying the hint to send back.
type usageError struct {
	usage string
}

func (e *usageError) Error() string { return "bot: usage: " + e.usage }

func (e *usageError) Unwrap() error { return ErrMalformedCommandArgs }

const (
	replyWelcome       = "Welcome!"
	replyNotAllowed    = "You are not whitelisted"
	replyRateLimited   = "Rate limit exceeded"
	replyWorking       = "Working on it..."
	replyDone          = "Done!"
	replyFoundNothing  = "Found nothing"
	replyNoPending     = "No document in queue"
	replyRefused       = "The file has been rejected"
	replyNotPDF        = "This is not a PDF file"
	replyTooLarge      = "This file is too large to relay"
	replyRegisterFirst = "You need to /register first"
	replyUserNotFound  = "User was not found"
	replyDocNotFound   = "Document not found"
	replyBadPairing    = "The pairing code was rejected. Generate a new one and try again"
	replyTokenRevoked  = "Your reMarkable no longer accepts this relay. Please /register again"
	replyFailure       = "An error has occurred. The admin has been notified!"

	usageRegister = "You need to specify the code to pair your reMarkable as a parameter"
	usageShare    = "You need to specify the ID of the document, followed by the handle of the user"

	defaultUploadName = "File uploaded"
)

const helpText = `/register <code> - pair your reMarkable with the one-time code from my.remarkable.com
/search <term> - find documents by name (alias /list)
/share <id> <@user> - send one of your documents to another user
/accept - upload the document someone sent you
/refuse - discard the document someone sent you
Send a PDF to upload it to your reMarkable.`

// replyFor maps a handler error to the text sent back to the user.
func replyFor(err error) string {
	var usage *usageError

	switch {
	case errors.As(err, &usage):
		return usage.usage
	case errors.Is(err, transfer.ErrNotRegistered):
		return replyRegisterFirst
	case errors.Is(err, transfer.ErrRecipientNotFound):
		return replyUserNotFound
	case errors.Is(err, remarkable.ErrDocumentNotFound):
		return replyDocNotFound
	case errors.Is(err, remarkable.ErrInvalidPairingCode):
		return replyBadPairing
	case errors.Is(err, remarkable.ErrUnauthorized), errors.Is(err, remarkable.ErrForbidden):
		return replyTokenRevoked
	case errors.Is(err, ErrUnsupportedAttachment):
		return replyNotPDF
	case errors.Is(err, ErrAttachmentTooLarge):
		return replyTooLarge
	default:
		return replyFailure
	}
}

// outcomeOf labels an error for the commands_total metric.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedCommandArgs):
		return "usage"
	case errors.Is(err, transfer.ErrNotRegistered):
		return "unregistered"
	case errors.Is(err, transfer.ErrRecipientNotFound), errors.Is(err, remarkable.ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupportedAttachment), errors.Is(err, ErrAttachmentTooLarge):
		return "rejected"
	default:
		return "error"
	}
}

// isGatewayFailure reports whether err came back from the document cloud
// rather than from local validation.
func isGatewayFailure(err error) bool {
	var apiErr *remarkable.APIError

	return errors.As(err, &apiErr) || errors.Is(err, remarkable.ErrUnexpectedResponse) ||
		errors.Is(err, remarkable.ErrDiscovery) || errors.Is(err, remarkable.ErrServerError)
}
