// Package engine drives the intake conversation: it consumes typed inbound
// events, advances per-user sessions through the form stages, and produces
// the rendering instructions the chat transport should show next.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/SamoylikV/vaffel-disk-bot/internal/catalog"
	"github.com/SamoylikV/vaffel-disk-bot/internal/session"
	"github.com/SamoylikV/vaffel-disk-bot/internal/validate"
)

// Kind tags an inbound event with its semantic meaning.
type Kind int

// Inbound event kinds.
const (
	KindStart Kind = iota
	KindCity
	KindPoint
	KindDate
	KindText
	KindArtifact
	KindDone
	KindBack
	KindRestart
)

// Event is one inbound chat event keyed by an opaque user identity.
type Event struct {
	UserID   string
	Kind     Kind
	Value    string // choice label or free text
	Artifact session.Artifact
}

// Option is one selectable button: a label and the callback token the
// transport echoes back when it is pressed.
type Option struct {
	Label string
	Token string
}

// Render is an outbound rendering instruction: a prompt plus an optional
// ordered option list. An empty option list means a plain text prompt.
type Render struct {
	Prompt  string
	Options []Option
}

// Callback token vocabulary shared with the transport.
const (
	TokenBack        = "back"
	TokenRestart     = "restart"
	TokenCityPrefix  = "city:"
	TokenPointPrefix = "point:"
	TokenDatePrefix  = "date:"
)

// Submission is the snapshot handed to the finalizer when the last form
// field arrives. The session is already reset by then, so a restart during
// the transfer cannot disturb it.
type Submission struct {
	UserID    string
	City      string
	Point     string
	Date      string
	Supplier  string
	Invoice   string
	Artifacts []session.Artifact
}

// Segments returns the remote folder path for the submission.
func (s Submission) Segments() []string {
	return []string{
		validate.SafeName(s.City),
		validate.SafeName(s.Point),
		validate.SafeName(s.Date),
	}
}

// Sentinel errors reported to the transport. Both leave the session in its
// current stage.
var (
	// ErrStageMismatch means the event does not fit the current stage and
	// was ignored.
	ErrStageMismatch = errors.New("ignored, stage mismatch")
	// ErrEmptyUpload means "done" arrived with no accumulated photos.
	ErrEmptyUpload = errors.New("no photos accumulated")
)

// User-facing prompts.
const (
	promptCity     = "Выберите город:"
	promptPoint    = "Выберите точку:"
	promptDate     = "Выберите дату:"
	promptUpload   = "Загрузите фотографии накладных. Отправьте /done когда закончите."
	promptGotPhoto = "Фото принято. Отправьте еще или /done"
	promptNoPhoto  = "Нет загруженных фото."
	promptSupplier = "Введите название поставщика:"
	promptInvoice  = "Введите номер накладной:"
	labelBack      = "Назад"
	labelRestart   = "Начать заново"
)

// Engine is the stage transition engine. It owns all session mutation; the
// catalog is shared read-only data.
type Engine struct {
	catalog  *catalog.Catalog
	sessions *session.Store
	layout   string
	now      func() time.Time
	log      zerolog.Logger
}

// OptionFn customizes an Engine.
type OptionFn func(*Engine)

// WithDateLayout sets the layout used for date option labels.
func WithDateLayout(layout string) OptionFn {
	return func(e *Engine) { e.layout = layout }
}

// WithClock replaces the clock used for date window generation.
func WithClock(now func() time.Time) OptionFn {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) OptionFn {
	return func(e *Engine) { e.log = log }
}

// New returns an engine over the given catalog and session store.
func New(cat *catalog.Catalog, sessions *session.Store, opts ...OptionFn) *Engine {
	e := &Engine{
		catalog:  cat,
		sessions: sessions,
		layout:   "02.01.2006",
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the outcome of handling one event. Render, when non-nil, is
// shown to the user. Submit, when non-nil, must be driven through the
// finalizer by the caller.
type Result struct {
	Render *Render
	Submit *Submission
}

// Handle processes one inbound event against the owning user's session.
// Events for the same user are serialized on the session mutex; events for
// distinct users proceed concurrently.
func (e *Engine) Handle(ctx context.Context, ev Event) (Result, error) {
	sess := e.sessions.Get(ev.UserID)
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	switch ev.Kind {
	case KindStart, KindRestart:
		sess.Reset()
		return e.emit(sess, e.cityRender()), nil
	case KindCity:
		return e.handleCity(ctx, sess, ev.Value)
	case KindPoint:
		return e.handlePoint(ctx, sess, ev.Value)
	case KindDate:
		return e.handleDate(ctx, sess, ev.Value)
	case KindArtifact:
		return e.handleArtifact(sess, ev.Artifact)
	case KindDone:
		return e.handleDone(ctx, sess)
	case KindText:
		return e.handleText(ctx, sess, ev.Value)
	case KindBack:
		return e.handleBack(ctx, sess)
	default:
		return e.mismatch(sess, ev)
	}
}

func (e *Engine) handleCity(ctx context.Context, sess *session.Session, city string) (Result, error) {
	if sess.Stage() != session.StageCity || !e.catalog.HasCity(city) {
		return e.mismatch(sess, Event{Kind: KindCity, Value: city})
	}
	sess.Answers.City = city
	if e.catalog.HasPoints(city) {
		if err := sess.Fire(ctx, session.EventCityBranch); err != nil {
			return Result{}, err
		}
		return e.emit(sess, e.pointRender(city)), nil
	}
	// No secondary choice: the city stands for its own point.
	sess.Answers.Point = city
	if err := sess.Fire(ctx, session.EventCityDirect); err != nil {
		return Result{}, err
	}
	return e.emit(sess, e.dateRender()), nil
}

func (e *Engine) handlePoint(ctx context.Context, sess *session.Session, point string) (Result, error) {
	if sess.Stage() != session.StagePoint || !e.catalog.HasPoint(sess.Answers.City, point) {
		return e.mismatch(sess, Event{Kind: KindPoint, Value: point})
	}
	sess.Answers.Point = point
	if err := sess.Fire(ctx, session.EventPoint); err != nil {
		return Result{}, err
	}
	return e.emit(sess, e.dateRender()), nil
}

func (e *Engine) handleDate(ctx context.Context, sess *session.Session, date string) (Result, error) {
	if sess.Stage() != session.StageDate {
		return e.mismatch(sess, Event{Kind: KindDate, Value: date})
	}
	// The out-of-range sentinel is stored verbatim, same as a real date.
	sess.Answers.Date = date
	if err := sess.Fire(ctx, session.EventDate); err != nil {
		return Result{}, err
	}
	return e.emit(sess, Render{Prompt: promptUpload}), nil
}

func (e *Engine) handleArtifact(sess *session.Session, a session.Artifact) (Result, error) {
	if sess.Stage() != session.StageUpload {
		return e.mismatch(sess, Event{Kind: KindArtifact})
	}
	sess.Artifacts = append(sess.Artifacts, a)
	return Result{Render: &Render{Prompt: promptGotPhoto}}, nil
}

func (e *Engine) handleDone(ctx context.Context, sess *session.Session) (Result, error) {
	if sess.Stage() != session.StageUpload {
		return e.mismatch(sess, Event{Kind: KindDone})
	}
	if len(sess.Artifacts) == 0 {
		return Result{Render: &Render{Prompt: promptNoPhoto}}, ErrEmptyUpload
	}
	if err := sess.Fire(ctx, session.EventFinishUpload); err != nil {
		return Result{}, err
	}
	return Result{Render: &Render{Prompt: promptSupplier}}, nil
}

func (e *Engine) handleText(ctx context.Context, sess *session.Session, text string) (Result, error) {
	switch sess.Stage() {
	case session.StageSupplier:
		if validate.SupplierOK(text) != nil {
			return Result{Render: &Render{Prompt: promptSupplier}}, nil
		}
		sess.Answers.Supplier = text
		if err := sess.Fire(ctx, session.EventSupplier); err != nil {
			return Result{}, err
		}
		return Result{Render: &Render{Prompt: promptInvoice}}, nil
	case session.StageInvoice:
		if validate.InvoiceOK(text) != nil {
			return Result{Render: &Render{Prompt: promptInvoice}}, nil
		}
		sess.Answers.Invoice = text
		sub := &Submission{
			UserID:    sess.UserID,
			City:      sess.Answers.City,
			Point:     sess.Answers.Point,
			Date:      sess.Answers.Date,
			Supplier:  sess.Answers.Supplier,
			Invoice:   sess.Answers.Invoice,
			Artifacts: append([]session.Artifact(nil), sess.Artifacts...),
		}
		sess.Reset()
		return Result{Submit: sub}, nil
	default:
		return e.mismatch(sess, Event{Kind: KindText, Value: text})
	}
}

func (e *Engine) handleBack(ctx context.Context, sess *session.Session) (Result, error) {
	switch sess.Stage() {
	case session.StagePoint:
		if err := sess.Fire(ctx, session.EventBackToCity); err != nil {
			return Result{}, err
		}
		sess.Answers.City = ""
		return e.emit(sess, e.cityRender()), nil
	case session.StageDate:
		if e.catalog.HasPoints(sess.Answers.City) {
			if err := sess.Fire(ctx, session.EventBackToPoint); err != nil {
				return Result{}, err
			}
			sess.Answers.Point = ""
			return e.emit(sess, e.pointRender(sess.Answers.City)), nil
		}
		if err := sess.Fire(ctx, session.EventBackToCity); err != nil {
			return Result{}, err
		}
		sess.Answers.City = ""
		sess.Answers.Point = ""
		return e.emit(sess, e.cityRender()), nil
	default:
		return e.mismatch(sess, Event{Kind: KindBack})
	}
}

func (e *Engine) mismatch(sess *session.Session, ev Event) (Result, error) {
	e.log.Debug().
		Str("user", sess.UserID).
		Str("stage", sess.Stage()).
		Int("kind", int(ev.Kind)).
		Msg("event ignored, stage mismatch")
	return Result{}, ErrStageMismatch
}

// emit applies duplicate-render suppression to option renders: re-issuing a
// prompt with an identical option set is dropped so the transport is not
// asked to repeat an edit it already made. Plain prompts always pass.
func (e *Engine) emit(sess *session.Session, r Render) Result {
	if len(r.Options) > 0 {
		key := fingerprint(r)
		if key == sess.LastRenderKey {
			return Result{}
		}
		sess.LastRenderKey = key
	}
	return Result{Render: &r}
}

func (e *Engine) cityRender() Render {
	cities := e.catalog.Cities()
	opts := make([]Option, 0, len(cities))
	for _, c := range cities {
		opts = append(opts, Option{Label: c, Token: TokenCityPrefix + c})
	}
	return Render{Prompt: promptCity, Options: opts}
}

func (e *Engine) pointRender(city string) Render {
	points := e.catalog.Points(city)
	opts := make([]Option, 0, len(points)+1)
	for _, p := range points {
		opts = append(opts, Option{Label: p, Token: TokenPointPrefix + p})
	}
	opts = append(opts, Option{Label: labelBack, Token: TokenBack})
	return Render{Prompt: promptPoint, Options: opts}
}

// dateRender regenerates the window on every entry to the date stage, so
// the labels reflect the current date rather than the session's creation
// time.
func (e *Engine) dateRender() Render {
	labels := catalog.DateWindow(e.now(), e.layout)
	opts := make([]Option, 0, len(labels)+1)
	for _, l := range labels {
		opts = append(opts, Option{Label: l, Token: TokenDatePrefix + l})
	}
	opts = append(opts, Option{Label: labelBack, Token: TokenBack})
	return Render{Prompt: promptDate, Options: opts}
}

// CompletionRender is the notice shown after finalization, with a restart
// button. Failed counts are surfaced instead of silently dropped.
func CompletionRender(uploaded, failed int) Render {
	prompt := "Все фото загружены."
	if failed > 0 {
		prompt = fmtCounts(uploaded, failed)
	}
	return Render{
		Prompt:  prompt,
		Options: []Option{{Label: labelRestart, Token: TokenRestart}},
	}
}

// StorageFailureRender is the notice shown when the destination folder
// could not be resolved.
func StorageFailureRender() Render {
	return Render{
		Prompt:  "Не удалось сохранить фото. Попробуйте позже.",
		Options: []Option{{Label: labelRestart, Token: TokenRestart}},
	}
}

func fmtCounts(uploaded, failed int) string {
	return fmt.Sprintf("Загружено фото: %d, с ошибкой: %d.", uploaded, failed)
}

// fingerprint flattens a render into a comparison key.
func fingerprint(r Render) string {
	key := r.Prompt
	for _, o := range r.Options {
		key += "\x1f" + o.Label + "\x1e" + o.Token
	}
	return key
}
