package main

import (
	"context"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/sdk/go/stakepilot"
)

// remoteThread 通过 SDK 把守护进程上的会话适配为 conversation.Thread。
type remoteThread struct {
	client   *stakepilot.Client
	threadID string
}

func (r remoteThread) Messages(ctx context.Context) ([]conversation.Message, error) {
	msgs, err := r.client.Messages(ctx, r.threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	out := make([]conversation.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, fromRemote(msg))
	}
	return out, nil
}

func (r remoteThread) Submit(ctx context.Context, msgs []conversation.Message) ([]conversation.Message, error) {
	in := make([]stakepilot.Message, 0, len(msgs))
	for _, msg := range msgs {
		in = append(in, toRemote(msg))
	}
	stored, err := r.client.Submit(ctx, r.threadID, in)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	out := make([]conversation.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, fromRemote(msg))
	}
	return out, nil
}

func fromRemote(msg stakepilot.Message) conversation.Message {
	out := conversation.Message{
		ID:         msg.ID,
		ThreadID:   msg.ThreadID,
		Role:       conversation.Role(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
		CreatedAt:  msg.CreatedAt,
		Seq:        msg.Seq,
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
	}
	return out
}

func toRemote(msg conversation.Message) stakepilot.Message {
	out := stakepilot.Message{
		ID:         msg.ID,
		ThreadID:   msg.ThreadID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
		CreatedAt:  msg.CreatedAt,
		Seq:        msg.Seq,
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, stakepilot.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
	}
	return out
}

var _ conversation.Thread = remoteThread{}
