package services

import (
	"context"

	"checkpoint-capture/internal/models"
)

// NoticeLevel classifies a user-facing notice
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a message shown to the operator
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Notifier delivers notices to the operator of a flow
type Notifier interface {
	Notify(notice Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Notice)

// Notify implements Notifier
func (f NotifierFunc) Notify(notice Notice) { f(notice) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// SubmissionObserver is told about every stored submission
type SubmissionObserver interface {
	OnSubmitted(ctx context.Context, submission models.Submission)
}
