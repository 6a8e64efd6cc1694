package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
	"github.com/hackgods/dental-intake-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

var (
	ErrInvalidResumeState = errors.New("conversation: thread is not waiting for input")
	ErrAwaitingInput      = errors.New("conversation: thread is waiting for a resume value")
	ErrMissingPatientKey  = errors.New("conversation: patient key is required")
	ErrEmptyMessage       = errors.New("conversation: message is empty")
)

// Scheduler is the slice of the appointment service the conversation needs.
type Scheduler interface {
	FindPatient(ctx context.Context, key string) (*appointment.Patient, error)
	RegisterPatient(ctx context.Context, key string) (*appointment.Patient, error)
	MedicalHistorySummary(ctx context.Context, patientID uuid.UUID) (string, error)
	AvailableDoctors(ctx context.Context) ([]appointment.Doctor, error)
	EnumerateSlots(ctx context.Context, doctors []appointment.Doctor, duration time.Duration, maxResults, horizonDays int) ([]appointment.SlotOffer, error)
	FindNextSlot(ctx context.Context, doctorID uuid.UUID, from time.Time, duration time.Duration) (*appointment.Slot, error)
	BookSlot(ctx context.Context, patientID uuid.UUID, slot appointment.Slot, reason string) (*appointment.Appointment, error)
	AssignDoctorToChat(ctx context.Context, doctorID uuid.UUID, threadID string) (*appointment.Doctor, error)
	ReleaseDoctor(ctx context.Context, doctorID uuid.UUID) (*appointment.Doctor, error)
	Now() time.Time
	Location() *time.Location
}

type Dependencies struct {
	Scheduler   Scheduler
	Classifier  llm.Classifier
	Responder   llm.Responder
	Checkpoints CheckpointStore
	Locker      redisclient.Locker
}

// Result is what a caller sees after Send or Resume.
type Result struct {
	State   State      `json:"state"`
	Pending *Interrupt `json:"pending,omitempty"`
	Done    bool       `json:"done"`
}

type Engine struct {
	scheduler   Scheduler
	classifier  llm.Classifier
	responder   llm.Responder
	checkpoints CheckpointStore
	locker      redisclient.Locker
	cfg         config.Config
	logger      *zap.Logger
	metrics     *metrics.ConversationMetrics
	graph       map[Step]node
}

func NewEngine(deps Dependencies, cfg config.Config, logger *zap.Logger, m *metrics.ConversationMetrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UrgencyPolicy == "" {
		cfg.UrgencyPolicy = config.UrgencyPolicySelect
	}
	e := &Engine{
		scheduler:   deps.Scheduler,
		classifier:  deps.Classifier,
		responder:   deps.Responder,
		checkpoints: deps.Checkpoints,
		locker:      deps.Locker,
		cfg:         cfg,
		logger:      logger.Named("conversation"),
		metrics:     m,
	}
	e.graph = e.buildGraph()
	return e
}

// Send appends an inbound patient message and runs the thread until it finishes or suspends.
// The patient key is required when the thread is new.
func (e *Engine) Send(ctx context.Context, threadID, patientKey, text string) (*Result, error) {
	threadID = strings.TrimSpace(threadID)
	patientKey = strings.TrimSpace(patientKey)
	if threadID == "" {
		return nil, fmt.Errorf("%w: missing thread id", ErrInvalidState)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	var result *Result
	err := e.locker.WithLock(ctx, redisclient.ThreadLockKey(threadID), func(ctx context.Context) error {
		current, err := e.checkpoints.Load(ctx, threadID)
		var st State
		switch {
		case errors.Is(err, ErrUnknownThread):
			if patientKey == "" {
				return ErrMissingPatientKey
			}
			st = newState(threadID, patientKey, e.cfg.UrgencyPolicy).withMessage(llm.RoleUser, text)
		case err != nil:
			return err
		case current.Status == StatusSuspended:
			return ErrAwaitingInput
		default:
			st = *current
			if patientKey != "" && patientKey != st.PatientKey {
				st.PatientKey = patientKey
				st.PatientExists = false
				st.PatientID = uuid.Nil
				st.PatientName = ""
			}
			st = st.startTurn(text)
		}

		result, err = e.runAndSave(ctx, st)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resume supplies the value a suspended thread is waiting for and continues from the recorded step.
func (e *Engine) Resume(ctx context.Context, threadID string, value json.RawMessage) (*Result, error) {
	var result *Result
	err := e.locker.WithLock(ctx, redisclient.ThreadLockKey(threadID), func(ctx context.Context) error {
		current, err := e.checkpoints.Load(ctx, threadID)
		if err != nil {
			return err
		}
		if current.Status != StatusSuspended {
			return fmt.Errorf("%w: status %s", ErrInvalidResumeState, current.Status)
		}

		st := *current
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		st.HumanResponse = append(json.RawMessage(nil), value...)
		st.AwaitingHuman = false
		st.Pending = nil
		st.Status = StatusRunning

		result, err = e.runAndSave(ctx, st)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) State(ctx context.Context, threadID string) (*State, error) {
	return e.checkpoints.Load(ctx, threadID)
}

// Reset forgets the thread and frees a doctor assigned to it.
func (e *Engine) Reset(ctx context.Context, threadID string) error {
	return e.locker.WithLock(ctx, redisclient.ThreadLockKey(threadID), func(ctx context.Context) error {
		st, err := e.checkpoints.Load(ctx, threadID)
		if err != nil && !errors.Is(err, ErrInvalidState) {
			return err
		}
		if st != nil && st.AssignedDoctor != nil {
			if _, err := e.scheduler.ReleaseDoctor(ctx, st.AssignedDoctor.ID); err != nil {
				e.logger.Warn("failed to release doctor on reset",
					zap.String("thread_id", threadID),
					zap.String("doctor_id", st.AssignedDoctor.ID.String()),
					zap.Error(err))
			}
		}
		return e.checkpoints.Delete(ctx, threadID)
	})
}

func (e *Engine) runAndSave(ctx context.Context, st State) (*Result, error) {
	st = e.run(ctx, st)
	if err := e.checkpoints.Save(ctx, st); err != nil {
		return nil, err
	}

	res := &Result{State: st, Done: st.Status == StatusDone}
	if st.Pending != nil {
		p := *st.Pending
		res.Pending = &p
	}
	return res, nil
}

// run executes steps until the thread finishes or suspends. Step errors never escape: they
// become an apology and a finished thread.
func (e *Engine) run(ctx context.Context, st State) State {
	for steps := 0; st.Status == StatusRunning; steps++ {
		if steps >= maxStepsPerRun {
			e.logger.Error("step budget exhausted", zap.String("thread_id", st.ThreadID), zap.String("step", string(st.Next)))
			return e.finish(st.say(llm.ApologyText), st.Next)
		}

		current := st.Next
		n, ok := e.graph[current]
		if !ok {
			return e.finish(st, current)
		}

		e.metrics.ObserveStep(string(current))
		out, err := n.run(ctx, st)
		if err != nil {
			e.logger.Error("conversation step failed",
				zap.String("thread_id", st.ThreadID),
				zap.String("step", string(current)),
				zap.Error(err))
			return e.finish(st.say(llm.ApologyText), current)
		}

		if out.Status == StatusSuspended {
			e.metrics.ObserveInterrupt(out.Pending.Reason)
			out.Version++
			out.Trail = appendTransition(out.Trail, current, out.Next)
			return out
		}

		next := n.route(out)
		if next == StepEnd {
			return e.finish(out, current)
		}
		out.Version++
		out.Trail = appendTransition(out.Trail, current, next)
		out.Next = next
		st = out
	}
	return st
}

func (e *Engine) finish(st State, from Step) State {
	st.Version++
	st.Trail = appendTransition(st.Trail, from, StepEnd)
	st.Next = StepEnd
	st.Status = StatusDone
	st.Pending = nil
	st.AwaitingHuman = false
	return st
}

func appendTransition(trail []Transition, from, to Step) []Transition {
	out := make([]Transition, len(trail), len(trail)+1)
	copy(out, trail)
	return append(out, Transition{From: from, To: to, At: time.Now().UTC()})
}

// adapterContext bounds a classifier or responder call.
func (e *Engine) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.AdapterTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.AdapterTimeout)
}
