package table

import (
	"errors"
	"fmt"
	"sync"

	"erpcore/pkg/domain"
)

// Level classifies a user-facing notice.
type Level string

// Notice levels.
const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a toast-style message for the user.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier receives user-facing notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// Recorder keeps every notice it receives. Views drain it after each action.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Drain returns and clears the recorded notices.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

// Last returns the most recent notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// User-facing messages.
const (
	MsgSaved          = "저장되었습니다"
	MsgDenied         = "권한이 없습니다"
	MsgFailed         = "처리 중 오류가 발생했습니다"
	MsgPendingExists  = "이미 작성 중인 행이 있습니다. 먼저 저장하거나 취소하세요"
	MsgDraftNoBulkDel = "작성 중인 행은 일괄 삭제할 수 없습니다. 먼저 저장하거나 취소하세요"
	MsgRequired       = "필수 항목을 입력하세요"
)

// noticeFor converts an error from the taxonomy into the notice shown to the
// user: denials and transient failures get a generic message, conflicts and
// validation failures are shown verbatim.
func noticeFor(err error) Notice {
	switch {
	case domain.IsAuthorization(err):
		return Notice{Level: LevelError, Message: MsgDenied}
	case domain.IsConflict(err):
		return Notice{Level: LevelError, Message: err.Error()}
	case domain.IsValidation(err):
		var ve *domain.ValidationError
		errors.As(err, &ve)
		if ve.Message == requiredMissing {
			return Notice{Level: LevelWarning, Message: MsgRequired}
		}
		return Notice{Level: LevelWarning, Message: err.Error()}
	case domain.IsNotFound(err):
		return Notice{Level: LevelError, Message: err.Error()}
	default:
		return Notice{Level: LevelError, Message: MsgFailed}
	}
}

func bulkDeleteNotice(r DeleteReport) Notice {
	if r.Failed == 0 {
		return Notice{Level: LevelSuccess, Message: fmt.Sprintf("%d건 삭제되었습니다", r.Succeeded)}
	}
	return Notice{Level: LevelError, Message: fmt.Sprintf("삭제 완료 %d건, 실패 %d건", r.Succeeded, r.Failed)}
}
