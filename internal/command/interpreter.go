package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/cohort-sms/internal/config"
	"github.com/LeventeLantos/cohort-sms/internal/model"
	"github.com/LeventeLantos/cohort-sms/internal/repo"
	"github.com/LeventeLantos/cohort-sms/internal/service"
)

// Broadcaster sends one message to many recipients. Implemented by service.Broadcaster.
type Broadcaster interface {
	Broadcast(ctx context.Context, body, mediaURL string, recipients []string) service.Result
}

// Interpreter turns one inbound text message into a reply, enrolling the
// sender or running an admin command on the way. It holds no per-message
// state and is safe for concurrent use.
type Interpreter struct {
	cfg         *config.BotConfig
	people      repo.PeopleRepository
	broadcaster Broadcaster
	log         *slog.Logger
	now         func() time.Time

	keyword     string
	enrollments map[string]struct{}
	admins      map[string]struct{}
}

// Option customizes an Interpreter.
type Option func(*Interpreter)

// WithClock replaces the wall clock used to compute today's cohort.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) { i.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.log = l }
}

// New builds an Interpreter. cfg is read but never modified.
func New(cfg *config.BotConfig, people repo.PeopleRepository, broadcaster Broadcaster, opts ...Option) *Interpreter {
	i := &Interpreter{
		cfg:         cfg,
		people:      people,
		broadcaster: broadcaster,
		log:         slog.Default(),
		now:         time.Now,
		keyword:     fold(cfg.AdminKeyword),
		enrollments: make(map[string]struct{}, len(cfg.ValidEnrollments)),
		admins:      make(map[string]struct{}, len(cfg.AdminPhoneNumbers)),
	}
	for _, p := range cfg.ValidEnrollments {
		i.enrollments[normalizePhrase(p)] = struct{}{}
	}
	for _, n := range cfg.AdminPhoneNumbers {
		i.admins[strings.TrimSpace(n)] = struct{}{}
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret handles one inbound message. ok is false when no reply should be sent.
func (i *Interpreter) Interpret(ctx context.Context, body, sender, mediaURL string) (reply string, ok bool) {
	sender = strings.TrimSpace(sender)
	words := strings.Fields(body)
	if len(words) == 0 || sender == "" {
		return i.cfg.Messages.EnrollmentError, true
	}

	if fold(words[0]) != i.keyword {
		return i.interpretEnrollment(ctx, body, sender)
	}
	return i.interpretAdmin(ctx, words[1:], sender, mediaURL), true
}

func (i *Interpreter) interpretEnrollment(ctx context.Context, body, sender string) (string, bool) {
	if _, ok := i.enrollments[normalizePhrase(body)]; ok {
		return i.enroll(ctx, sender), true
	}
	if !i.cfg.ReplyToUnrecognized {
		return "", false
	}
	return i.cfg.Messages.Intro, true
}

// enroll registers phoneNumber in today's cohort. A uniqueness conflict from
// storage means a concurrent request won the race and is reported as already
// enrolled.
func (i *Interpreter) enroll(ctx context.Context, phoneNumber string) string {
	cohort := TodaysCohort(i.now(), i.cfg.CohortLocation)
	log := i.log.With("phone_number", phoneNumber, "cohort", cohort)

	_, err := i.people.FindOne(ctx, phoneNumber, cohort)
	switch {
	case err == nil:
		return i.cfg.Messages.AlreadyEnrolled
	case !errors.Is(err, repo.ErrNotFound):
		log.Error("failed to look up person", "error", err)
		return i.cfg.Messages.EnrollmentError
	}

	if _, err := i.people.Create(ctx, model.NewPerson(phoneNumber, cohort)); err != nil {
		if errors.Is(err, repo.ErrAlreadyEnrolled) {
			return i.cfg.Messages.AlreadyEnrolled
		}
		log.Error("failed to enroll person", "error", err)
		return i.cfg.Messages.EnrollmentError
	}

	log.Info("person enrolled")
	return i.cfg.Messages.EnrollmentSuccess
}

func (i *Interpreter) interpretAdmin(ctx context.Context, args []string, sender, mediaURL string) string {
	if len(args) == 0 {
		return i.usage()
	}
	if !i.authorized(sender) {
		i.log.Warn("rejected admin command from unauthorized sender", "phone_number", sender)
		return "Sorry, you are not authorized to run admin commands."
	}
	if len(args) < 2 {
		return i.usage()
	}

	subcommand := args[0]
	scope, err := ParseCohort(args[1])
	if err != nil {
		return fmt.Sprintf(`invalid cohort %q. Cohort must be either "ALL" or like "YYYY-MM-DD" for example "2018-05-09"`, args[1])
	}

	log := i.log.With("subcommand", fold(subcommand), "cohort", scope.String(), "admin", sender)
	switch fold(subcommand) {
	case "send":
		message := strings.Join(args[2:], " ")
		if message == "" && mediaURL == "" {
			return i.usage()
		}
		return i.send(ctx, log, scope, message, mediaURL)
	case "list":
		return i.list(ctx, log, scope)
	case "count":
		return i.count(ctx, log, scope)
	case "delete":
		return i.deleteCohort(ctx, log, scope)
	}
	return fmt.Sprintf("invalid command %q. Valid commands are SEND, LIST, COUNT, DELETE", subcommand)
}

func (i *Interpreter) authorized(sender string) bool {
	if !i.cfg.AdminAuthEnabled {
		return true
	}
	_, ok := i.admins[sender]
	return ok
}

func (i *Interpreter) usage() string {
	return fmt.Sprintf("Usage: %s <SEND|LIST|COUNT|DELETE> <ALL|YYYY-MM-DD> [MESSAGE]", i.cfg.AdminKeyword)
}

func (i *Interpreter) failure(action string, scope repo.Scope) string {
	return fmt.Sprintf("There was some sort of problem %s cohort %s. %s", action, cohortLabel(scope), i.cfg.Messages.CommandErrorSuffix)
}

func (i *Interpreter) phoneNumbers(ctx context.Context, scope repo.Scope) ([]string, error) {
	found, err := i.people.FindAllByCohort(ctx, scope)
	if err != nil {
		return nil, err
	}
	return model.PhoneNumbers(found), nil
}

func (i *Interpreter) send(ctx context.Context, log *slog.Logger, scope repo.Scope, message, mediaURL string) string {
	numbers, err := i.phoneNumbers(ctx, scope)
	if err != nil {
		log.Error("failed to resolve cohort", "error", err)
		return i.failure("sending your message to", scope)
	}

	res := i.broadcaster.Broadcast(ctx, message, mediaURL, numbers)
	if !res.OK() {
		log.Error("broadcast partially failed", "attempted", res.Attempted, "failed", res.Failed, "error", res.Err)
		return fmt.Sprintf("Your message could not be delivered to %d of %s in cohort %s. %s",
			res.Failed, personCount(res.Attempted), cohortLabel(scope), i.cfg.Messages.CommandErrorSuffix)
	}

	log.Info("broadcast sent", "recipients", res.Attempted)
	return fmt.Sprintf("Your message was sent to %s in cohort %s", personCount(res.Attempted), cohortLabel(scope))
}

func (i *Interpreter) list(ctx context.Context, log *slog.Logger, scope repo.Scope) string {
	numbers, err := i.phoneNumbers(ctx, scope)
	if err != nil {
		log.Error("failed to list cohort", "error", err)
		return i.failure("listing", scope)
	}
	if len(numbers) == 0 {
		return fmt.Sprintf("There are no members in cohort %s", cohortLabel(scope))
	}
	return fmt.Sprintf("These are the members in cohort %s:\n%s", cohortLabel(scope), strings.Join(numbers, "\n"))
}

func (i *Interpreter) count(ctx context.Context, log *slog.Logger, scope repo.Scope) string {
	numbers, err := i.phoneNumbers(ctx, scope)
	if err != nil {
		log.Error("failed to count cohort", "error", err)
		return i.failure("counting", scope)
	}
	return fmt.Sprintf("%s in cohort %s", thereAre(len(numbers)), cohortLabel(scope))
}

func (i *Interpreter) deleteCohort(ctx context.Context, log *slog.Logger, scope repo.Scope) string {
	n, err := i.people.DeleteByCohort(ctx, scope)
	if err != nil {
		log.Error("failed to delete cohort", "error", err)
		return i.failure("deleting", scope)
	}
	log.Info("cohort deleted", "deleted", n)
	return fmt.Sprintf("Deleted %s from cohort %s", personCount(int(n)), cohortLabel(scope))
}
