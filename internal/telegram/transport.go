// Package telegram adapts Telegram updates to engine events and engine
// renders to messages with inline keyboards. It also downloads photo
// artifacts into local staging files for the finalizer.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/SamoylikV/vaffel-disk-bot/internal/engine"
	"github.com/SamoylikV/vaffel-disk-bot/internal/finalize"
	"github.com/SamoylikV/vaffel-disk-bot/internal/session"
	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
)

// Transport is the chat-transport collaborator: one long-polling loop
// fanning updates out to per-user workers, so one user's slow upload never
// blocks another's conversation while events for a single user stay in
// arrival order.
type Transport struct {
	bot       *tgbotapi.BotAPI
	engine    *engine.Engine
	finalizer *finalize.Finalizer
	log       zerolog.Logger
	httpc     *http.Client

	mu      sync.Mutex
	lastMsg map[int64]int // chat → message carrying the current option set
	workers map[string]chan tgbotapi.Update
	wg      sync.WaitGroup
}

// New returns a transport over an authorized bot API client.
func New(bot *tgbotapi.BotAPI, eng *engine.Engine, fin *finalize.Finalizer, log zerolog.Logger) *Transport {
	return &Transport{
		bot:       bot,
		engine:    eng,
		finalizer: fin,
		log:       log,
		httpc:     &http.Client{Timeout: 60 * time.Second},
		lastMsg:   make(map[int64]int),
		workers:   make(map[string]chan tgbotapi.Update),
	}
}

// SetFinalizer injects the finalizer after construction. The transport and
// finalizer reference each other: the transport doubles as the artifact
// fetcher the finalizer downloads through.
func (t *Transport) SetFinalizer(f *finalize.Finalizer) { t.finalizer = f }

// Run receives updates until ctx is canceled, then drains the per-user
// workers and returns.
func (t *Transport) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.closeWorkers()
			t.wg.Wait()
			return
		case upd, ok := <-updates:
			if !ok {
				t.closeWorkers()
				t.wg.Wait()
				return
			}
			if user := updateUser(upd); user != "" {
				t.worker(ctx, user) <- upd
			}
		}
	}
}

// worker returns the update queue for a user, starting its goroutine on
// first use. Per-user queues keep one user's events ordered while distinct
// users proceed concurrently.
func (t *Transport) worker(ctx context.Context, user string) chan tgbotapi.Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.workers[user]; ok {
		return ch
	}
	ch := make(chan tgbotapi.Update, 32)
	t.workers[user] = ch
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for upd := range ch {
			t.dispatch(ctx, upd)
		}
	}()
	return ch
}

func (t *Transport) closeWorkers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.workers {
		close(ch)
	}
	t.workers = make(map[string]chan tgbotapi.Update)
}

// dispatch maps one update to an engine event, runs it, and renders the
// outcome. Nothing here may escape as a panic or returned error: a broken
// update must not take the loop down for other users.
func (t *Transport) dispatch(ctx context.Context, upd tgbotapi.Update) {
	ev, chatID, cb := t.mapUpdate(upd)
	if chatID == 0 {
		return
	}
	if cb != nil {
		// Stop the client's spinner; errors here are cosmetic.
		if _, err := t.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			t.log.Debug().Err(err).Msg("callback ack failed")
		}
	}

	res, err := t.engine.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrStageMismatch):
		t.log.Debug().Str("user", ev.UserID).Msg("update ignored")
	case errors.Is(err, engine.ErrEmptyUpload):
		// User-visible warning; res.Render carries it.
	default:
		t.log.Error().Err(err).Str("user", ev.UserID).Msg("engine error")
		return
	}

	if res.Render != nil {
		t.send(chatID, *res.Render, cb != nil)
	}
	if res.Submit != nil {
		t.finalizeSubmission(ctx, chatID, *res.Submit)
	}
}

func (t *Transport) finalizeSubmission(ctx context.Context, chatID int64, sub engine.Submission) {
	out, err := t.finalizer.Submit(ctx, sub)
	if err != nil {
		var perr *storage.PathError
		if errors.As(err, &perr) {
			t.log.Error().Err(perr).Str("user", sub.UserID).Msg("destination resolution failed")
		} else {
			t.log.Error().Err(err).Str("user", sub.UserID).Msg("finalization failed")
		}
		t.send(chatID, engine.StorageFailureRender(), false)
		return
	}
	t.send(chatID, engine.CompletionRender(out.Uploaded, out.Failed), false)
}

// mapUpdate translates a Telegram update into an engine event. A zero
// chatID means the update carries nothing the engine consumes.
func (t *Transport) mapUpdate(upd tgbotapi.Update) (engine.Event, int64, *tgbotapi.CallbackQuery) {
	if cq := upd.CallbackQuery; cq != nil && cq.Message != nil {
		ev := engine.Event{UserID: strconv.FormatInt(cq.From.ID, 10)}
		chatID := cq.Message.Chat.ID
		data := cq.Data
		switch {
		case data == engine.TokenRestart:
			ev.Kind = engine.KindRestart
		case data == engine.TokenBack:
			ev.Kind = engine.KindBack
		case strings.HasPrefix(data, engine.TokenCityPrefix):
			ev.Kind, ev.Value = engine.KindCity, strings.TrimPrefix(data, engine.TokenCityPrefix)
		case strings.HasPrefix(data, engine.TokenPointPrefix):
			ev.Kind, ev.Value = engine.KindPoint, strings.TrimPrefix(data, engine.TokenPointPrefix)
		case strings.HasPrefix(data, engine.TokenDatePrefix):
			ev.Kind, ev.Value = engine.KindDate, strings.TrimPrefix(data, engine.TokenDatePrefix)
		default:
			return engine.Event{}, 0, nil
		}
		return ev, chatID, cq
	}

	if m := upd.Message; m != nil && m.From != nil {
		ev := engine.Event{UserID: strconv.FormatInt(m.From.ID, 10)}
		switch {
		case m.IsCommand() && m.Command() == "start":
			ev.Kind = engine.KindStart
		case m.IsCommand() && m.Command() == "done":
			ev.Kind = engine.KindDone
		case len(m.Photo) > 0:
			// Telegram sends several sizes; the last is the largest.
			ev.Kind = engine.KindArtifact
			ev.Artifact = session.Artifact{FileID: m.Photo[len(m.Photo)-1].FileID}
		case m.Text != "":
			ev.Kind, ev.Value = engine.KindText, m.Text
		default:
			return engine.Event{}, 0, nil
		}
		return ev, m.Chat.ID, nil
	}

	return engine.Event{}, 0, nil
}

// send renders a prompt. Option renders triggered by a button press edit
// the message that carried the previous option set, mirroring how the
// conversation walks one message through the selection stages.
func (t *Transport) send(chatID int64, r engine.Render, fromCallback bool) {
	if len(r.Options) == 0 {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, r.Prompt)); err != nil {
			t.log.Error().Err(err).Int64("chat", chatID).Msg("send failed")
		}
		return
	}

	markup := keyboard(r.Options)
	if fromCallback {
		t.mu.Lock()
		msgID, ok := t.lastMsg[chatID]
		t.mu.Unlock()
		if ok {
			edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, r.Prompt, markup)
			if _, err := t.bot.Send(edit); err == nil {
				return
			}
			// Message too old or already gone; fall through to a new one.
		}
	}

	msg := tgbotapi.NewMessage(chatID, r.Prompt)
	msg.ReplyMarkup = markup
	sent, err := t.bot.Send(msg)
	if err != nil {
		t.log.Error().Err(err).Int64("chat", chatID).Msg("send failed")
		return
	}
	t.mu.Lock()
	t.lastMsg[chatID] = sent.MessageID
	t.mu.Unlock()
}

// keyboard lays options out one per row.
func keyboard(opts []engine.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Token),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Fetch implements finalize.Fetcher: it downloads the photo bytes to a
// uniquely named staging file in the system temp directory.
func (t *Transport) Fetch(ctx context.Context, a session.Artifact) (string, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: a.FileID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(t.bot.Token), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", a.FileID, resp.StatusCode)
	}

	path := filepath.Join(os.TempDir(), ulid.Make().String()+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// updateUser extracts the sender identity used to key per-user workers.
func updateUser(upd tgbotapi.Update) string {
	if cq := upd.CallbackQuery; cq != nil {
		return strconv.FormatInt(cq.From.ID, 10)
	}
	if m := upd.Message; m != nil && m.From != nil {
		return strconv.FormatInt(m.From.ID, 10)
	}
	return ""
}
