package tools

import (
	"context"
	"fmt"
)

func (e *Executor) delegate(ctx context.Context, req DelegationRequest) (string, error) {
	if e.delegator == nil {
		return "", ErrNoDelegator
	}
	summary, err := e.delegator.Delegate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s delegation failed: %w", req.Kind, err)
	}
	return summary, nil
}

func (e *Executor) runSpecialist(ctx context.Context, call Call) (string, error) {
	in := call.Input
	domain, err := in.String("domain")
	if err != nil {
		return "", err
	}
	task, err := in.String("task")
	if err != nil {
		return "", err
	}
	files, err := in.Strings("files")
	if err != nil {
		return "", err
	}
	return e.delegate(ctx, DelegationRequest{Kind: KindSpecialist, Domain: domain, Task: task, Files: files, CallID: call.ID})
}

func (e *Executor) runReview(ctx context.Context, call Call) (string, error) {
	in := call.Input
	task, err := in.String("task")
	if err != nil {
		return "", err
	}
	files, err := in.Strings("files")
	if err != nil {
		return "", err
	}
	return e.delegate(ctx, DelegationRequest{Kind: KindReview, Task: task, Files: files, CallID: call.ID})
}

func (e *Executor) getSecondOpinion(ctx context.Context, call Call) (string, error) {
	in := call.Input
	q, err := in.String("question")
	if err != nil {
		return "", err
	}
	files, err := in.Strings("files")
	if err != nil {
		return "", err
	}
	return e.delegate(ctx, DelegationRequest{Kind: KindSecondOpinion, Task: q, Files: files, CallID: call.ID})
}
