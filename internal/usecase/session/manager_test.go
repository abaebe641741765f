package session_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/throttle"
	"campus-assistant/internal/usecase"
	"campus-assistant/internal/usecase/session"
)

func TestSendMessage_CreatesSessionAndStoresReply(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("Hello! How can I help?"), doneFrame), nil
	})

	reply, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", reply.Content)
	assert.Equal(t, domain.RoleAssistant, reply.Role)

	view := h.mgr.View()
	assert.Equal(t, session.StateIdle, view.State)
	assert.False(t, view.Composing)
	require.NotNil(t, view.SessionID)
	require.Len(t, view.Sessions, 1)
	assert.Equal(t, "hello", view.Sessions[0].Title)

	require.Len(t, view.Messages, 2)
	assert.Equal(t, domain.RoleUser, view.Messages[0].Role)
	assert.Equal(t, "hello", view.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, view.Messages[1].Role)
	assert.Equal(t, "Hello! How can I help?", view.Messages[1].Content)
	assert.Equal(t, []domain.Source{housingSource}, view.Messages[1].Sources)
	assert.Equal(t, 2, h.store.messageCount())

	require.Len(t, h.gen.requests, 1)
	req := h.gen.requests[0]
	assert.Equal(t, "hello", req.Message)
	assert.Equal(t, view.SessionID.String(), req.SessionID)
	assert.Equal(t, domain.DispositionDirect, req.Disposition)
	assert.Equal(t, "=== Article 1 ===", req.Context)

	snap, ok := h.mirror.snapshot(owner)
	require.True(t, ok)
	assert.Equal(t, *view.SessionID, snap.SessionID)
	assert.Len(t, snap.Messages, 2)
	assert.Len(t, snap.Sessions, 1)
}

func TestSendMessage_AssemblesTokensInOrder(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("Hi"), contentFrame(" there"), contentFrame("!"), doneFrame), nil
	})
	rec := &recorder{}

	reply, err := h.mgr.SendMessage(context.Background(), "hey", rec.observe)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply.Content)
	assert.Equal(t, []string{"Hi", " there", "!"}, rec.texts())

	require.NotEmpty(t, rec.chunks)
	assert.Equal(t, domain.DoneChunk{}, rec.chunks[len(rec.chunks)-1])
}

func TestSendMessage_StreamSourcesAreAttachedAtEnd(t *testing.T) {
	dorms := `{"type":"sources","data":[{"title":"Dorm Guide","slug":"dorm-guide","category":"housing"}]}`
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("See the guide."), dorms, doneFrame), nil
	})
	rec := &recorder{}

	reply, err := h.mgr.SendMessage(context.Background(), "where do I live", rec.observe)
	require.NoError(t, err)

	want := []domain.Source{{Title: "Dorm Guide", Slug: "dorm-guide", Category: "housing"}}
	assert.Equal(t, want, reply.Sources)
	// sources are relayed once, after the content
	require.Len(t, rec.chunks, 3)
	assert.Equal(t, domain.SourcesChunk{Sources: want}, rec.chunks[1])
}

func TestSendMessage_InputExhaustionFinalizes(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("partial but complete")), nil
	})

	reply, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "partial but complete", reply.Content)
}

func TestSendMessage_ErrorFrameDiscardsPlaceholder(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("Hi"), `{"type":"error","data":"model overloaded","retryable":true}`), nil
	})

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)

	var aborted *domain.StreamAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.True(t, aborted.Retryable)
	assert.Equal(t, "model overloaded", aborted.Message)

	view := h.mgr.View()
	assert.Equal(t, session.StateError, view.State)
	assert.Equal(t, "model overloaded", view.Error)
	assert.True(t, view.Retryable)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, domain.RoleUser, view.Messages[0].Role)
	assert.Equal(t, 1, h.store.messageCount())
}

func TestSendMessage_MalformedFrame(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("Hi"), `{not json`), nil
	})

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)

	var parseErr *domain.StreamParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Len(t, h.mgr.View().Messages, 1)
}

func TestSendMessage_EmptyStream(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(doneFrame), nil
	})

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.ErrorIs(t, err, domain.ErrEmptyStream)
	assert.True(t, domain.IsRetryable(err))
	assert.Len(t, h.mgr.View().Messages, 1)
}

func TestSendMessage_RejectsEmptyText(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.mgr.SendMessage(context.Background(), "   ", nil)
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Nil(t, h.mgr.View().SessionID)
}

func TestSendMessage_AdmissionDenied(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("ok"), doneFrame), nil
	})
	h.deps.Throttle = throttle.New(throttle.Config{MaxRequests: 1, Window: time.Minute})
	mgr := session.NewManager(owner, h.deps)

	_, err := mgr.SendMessage(context.Background(), "first", nil)
	require.NoError(t, err)

	_, err = mgr.SendMessage(context.Background(), "second", nil)
	var denied *domain.AdmissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Greater(t, denied.WaitTime, time.Duration(0))
	assert.Contains(t, domain.UserMessage(err), "Please wait")
	assert.Equal(t, 1, h.gen.calls())

	view := mgr.View()
	require.Len(t, view.Messages, 3)
	assert.Equal(t, "second", view.Messages[2].Content)
	assert.Equal(t, 2, h.store.messageCount())

	// the unsaved optimistic message is replaced, not duplicated
	_, err = mgr.RetryLastMessage(context.Background(), nil)
	require.ErrorAs(t, err, &denied)
	assert.Len(t, mgr.View().Messages, 3)
}

func TestSendMessage_RetriesTransientUpstream(t *testing.T) {
	h := newHarness(t, func(call int) (io.ReadCloser, error) {
		if call < 3 {
			return nil, &domain.UpstreamError{Kind: domain.UpstreamTransient, StatusCode: http.StatusServiceUnavailable}
		}
		return streamOf(contentFrame("recovered"), doneFrame), nil
	})

	reply, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Content)
	assert.Equal(t, 3, h.gen.calls())
}

func TestSendMessage_FatalUpstreamIsNotRetried(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamFatal, StatusCode: http.StatusUnauthorized}
	})

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)

	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, 1, h.gen.calls())
	assert.False(t, h.mgr.View().Retryable)
}

func TestSendMessage_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamTransient, StatusCode: http.StatusBadGateway}
	})

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.ErrorIs(t, err, domain.ErrRetryBudgetExhausted)
	assert.Equal(t, 3, h.gen.calls())
}

func TestSendMessage_CannedReplySkipsGeneration(t *testing.T) {
	h := newHarness(t, nil)
	h.planner.plan = &usecase.AnswerPlan{
		Disposition: domain.DispositionOutOfScope,
		Reply:       usecase.OutOfScopeReply,
	}
	rec := &recorder{}

	reply, err := h.mgr.SendMessage(context.Background(), "who won the game last night", rec.observe)
	require.NoError(t, err)
	assert.Equal(t, usecase.OutOfScopeReply, reply.Content)
	assert.Empty(t, reply.Sources)
	assert.Equal(t, 0, h.gen.calls())
	assert.Equal(t, []string{usecase.OutOfScopeReply}, rec.texts())
}

func TestSendMessage_NotReentrant(t *testing.T) {
	pr, pw := io.Pipe()
	opened := make(chan struct{})
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		close(opened)
		return pr, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.SendMessage(context.Background(), "first", nil)
		done <- err
	}()
	<-opened

	_, err := h.mgr.SendMessage(context.Background(), "second", nil)
	require.ErrorIs(t, err, domain.ErrSendInProgress)
	require.ErrorIs(t, h.mgr.SwitchSession(context.Background(), uuid.New()), domain.ErrSendInProgress)

	_, err = io.WriteString(pw, framesOf(contentFrame("done"), doneFrame))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
	assert.Len(t, h.mgr.View().Messages, 2)
}

func TestSendMessage_CancellationRemovesPlaceholder(t *testing.T) {
	pr, pw := io.Pipe()
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return pr, nil
	})
	go func() {
		_, _ = io.WriteString(pw, framesOf(contentFrame("Hi")))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sawPlaceholder bool
	observer := func(domain.StreamChunk) {
		view := h.mgr.View()
		sawPlaceholder = len(view.Messages) == 2 && !view.Composing
		cancel()
	}

	_, err := h.mgr.SendMessage(ctx, "hello", observer)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sawPlaceholder)

	view := h.mgr.View()
	assert.Equal(t, session.StateError, view.State)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, domain.RoleUser, view.Messages[0].Role)
}

func TestCancel_AbandonsInFlightSend(t *testing.T) {
	pr, pw := io.Pipe()
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return pr, nil
	})
	go func() {
		_, _ = io.WriteString(pw, framesOf(contentFrame("Hi")))
	}()

	_, err := h.mgr.SendMessage(context.Background(), "hello", func(domain.StreamChunk) {
		h.mgr.Cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.mgr.View().Messages, 1)
}

func TestSendMessage_ReplyPersistFailureKeepsLastKnownGood(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("answer"), doneFrame), nil
	})
	h.store.failAppend = func(msg *domain.Message) error {
		if msg.Role == domain.RoleAssistant {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)

	var storage *domain.StorageError
	require.ErrorAs(t, err, &storage)
	assert.False(t, domain.IsRetryable(err))
	view := h.mgr.View()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, domain.RoleUser, view.Messages[0].Role)
}

func TestRetryLastMessage(t *testing.T) {
	h := newHarness(t, func(call int) (io.ReadCloser, error) {
		if call == 1 {
			return streamOf(`{"type":"error","data":"busy","retryable":true}`), nil
		}
		return streamOf(contentFrame("second time lucky"), doneFrame), nil
	})

	_, err := h.mgr.RetryLastMessage(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrNothingToRetry)

	_, err = h.mgr.SendMessage(context.Background(), "what's for lunch", nil)
	require.Error(t, err)

	reply, err := h.mgr.RetryLastMessage(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", reply.Content)
	require.Len(t, h.gen.requests, 2)
	assert.Equal(t, "what's for lunch", h.gen.requests[1].Message)
	assert.Equal(t, session.StateIdle, h.mgr.View().State)
}

func TestSessionTitleIsTruncated(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("ok"), doneFrame), nil
	})
	long := "Could you tell me everything about the residence halls and their meal plans?"

	_, err := h.mgr.SendMessage(context.Background(), long, nil)
	require.NoError(t, err)

	title := h.mgr.View().Sessions[0].Title
	assert.Equal(t, string([]rune(long)[:50])+"...", title)
}

func sendInNewSession(t *testing.T, h *harness, text string) uuid.UUID {
	t.Helper()
	require.NoError(t, h.mgr.StartNewConversation(context.Background()))
	_, err := h.mgr.SendMessage(context.Background(), text, nil)
	require.NoError(t, err)
	id := h.mgr.View().SessionID
	require.NotNil(t, id)
	return *id
}

func TestSwitchSession(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	first := sendInNewSession(t, h, "first question")
	second := sendInNewSession(t, h, "second question")
	require.NotEqual(t, first, second)
	assert.Len(t, h.mgr.View().Sessions, 2)

	require.NoError(t, h.mgr.SwitchSession(context.Background(), first))
	view := h.mgr.View()
	require.NotNil(t, view.SessionID)
	assert.Equal(t, first, *view.SessionID)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "first question", view.Messages[0].Content)

	snap, _ := h.mirror.snapshot(owner)
	assert.Equal(t, first, snap.SessionID)

	err := h.mgr.SwitchSession(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSwitchSession_RejectsOtherOwner(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	other := session.NewManager("student-2", h.deps)
	_, err := other.SendMessage(context.Background(), "mine", nil)
	require.NoError(t, err)

	err = h.mgr.SwitchSession(context.Background(), *other.View().SessionID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	first := sendInNewSession(t, h, "first question")
	second := sendInNewSession(t, h, "second question")

	require.NoError(t, h.mgr.DeleteSession(context.Background(), second))
	view := h.mgr.View()
	require.NotNil(t, view.SessionID)
	assert.Equal(t, first, *view.SessionID)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "first question", view.Messages[0].Content)

	require.NoError(t, h.mgr.DeleteSession(context.Background(), first))
	view = h.mgr.View()
	assert.Nil(t, view.SessionID)
	assert.Empty(t, view.Messages)
	assert.Empty(t, view.Sessions)
	assert.Equal(t, 0, h.store.messageCount())
}

func TestDeleteSession_InactiveKeepsActive(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	first := sendInNewSession(t, h, "first question")
	second := sendInNewSession(t, h, "second question")

	require.NoError(t, h.mgr.DeleteSession(context.Background(), first))
	view := h.mgr.View()
	assert.Equal(t, second, *view.SessionID)
	assert.Len(t, view.Sessions, 1)
	assert.Len(t, view.Messages, 2)
}

func TestStartNewConversation_NextSendCreatesSession(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	first := sendInNewSession(t, h, "first question")

	require.NoError(t, h.mgr.StartNewConversation(context.Background()))
	view := h.mgr.View()
	assert.Nil(t, view.SessionID)
	assert.Empty(t, view.Messages)

	_, err := h.mgr.SendMessage(context.Background(), "another topic", nil)
	require.NoError(t, err)
	view = h.mgr.View()
	assert.NotEqual(t, first, *view.SessionID)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "another topic", view.Messages[0].Content)
}

func TestSignOut_PurgesState(t *testing.T) {
	h := newHarness(t, func(int) (io.ReadCloser, error) {
		return streamOf(contentFrame("reply"), doneFrame), nil
	})
	_, err := h.mgr.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)

	require.NoError(t, h.mgr.SignOut(context.Background()))

	view := h.mgr.View()
	assert.Nil(t, view.SessionID)
	assert.Empty(t, view.Sessions)
	assert.Empty(t, view.Messages)
	_, ok := h.mirror.snapshot(owner)
	assert.False(t, ok)
	assert.Equal(t, []string{owner}, h.mirror.purged)

	_, err = h.mgr.RetryLastMessage(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrNothingToRetry)
}

func TestReload_StoreOverwritesMirror(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	stored := &domain.ConversationSession{OwnerID: owner, Title: "stored"}
	require.NoError(t, h.store.CreateSession(ctx, stored))
	require.NoError(t, h.store.AppendMessage(ctx, &domain.Message{SessionID: stored.ID, Role: domain.RoleUser, Content: "from store"}))

	stale := domain.ConversationSession{ID: uuid.New(), OwnerID: owner, Title: "stale"}
	require.NoError(t, h.mirror.Save(ctx, owner, domain.SessionSnapshot{
		SessionID: stale.ID,
		Sessions:  []domain.ConversationSession{stale},
		Messages:  []domain.Message{{ID: uuid.New(), SessionID: stale.ID, Content: "from mirror"}},
	}))

	require.NoError(t, h.mgr.Reload(ctx))

	view := h.mgr.View()
	require.NotNil(t, view.SessionID)
	assert.Equal(t, stored.ID, *view.SessionID)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "from store", view.Messages[0].Content)

	snap, _ := h.mirror.snapshot(owner)
	assert.Equal(t, stored.ID, snap.SessionID)
}

func TestReload_StoreFailureKeepsMirroredState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	mirrored := domain.ConversationSession{ID: uuid.New(), OwnerID: owner, Title: "mirrored"}
	require.NoError(t, h.mirror.Save(ctx, owner, domain.SessionSnapshot{
		SessionID: mirrored.ID,
		Sessions:  []domain.ConversationSession{mirrored},
		Messages:  []domain.Message{{ID: uuid.New(), SessionID: mirrored.ID, Content: "cached"}},
	}))
	h.store.failListSessions = errors.New("store down")

	err := h.mgr.Reload(ctx)
	var storage *domain.StorageError
	require.ErrorAs(t, err, &storage)

	view := h.mgr.View()
	require.NotNil(t, view.SessionID)
	assert.Equal(t, mirrored.ID, *view.SessionID)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "cached", view.Messages[0].Content)
}
