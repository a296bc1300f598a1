package domain

// NoticeKind classifies user-visible notices.
type NoticeKind int

const (
	NoticeInfo     NoticeKind = iota // Plain confirmation
	NoticeProgress                   // Interim notice (e.g. retry attempt)
	NoticeError                      // Escalated failure
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "INFO"
	case NoticeProgress:
		return "PROGRESS"
	case NoticeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Notice is a short message meant for the user, rendered by the
// presentation layer (toast, snackbar, banner).
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Notifier receives user-visible notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}
