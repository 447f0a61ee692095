// Package actions implements the business operations the schedulers run:
// the composite purchase-then-spin, funds checks, claims, free actions and
// session refresh. Every remote step goes through the retry coordinator.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"AccountPilot/internal/credential"
	"AccountPilot/internal/model"
	"AccountPilot/internal/recorder"
	"AccountPilot/internal/registry"
	"AccountPilot/internal/remote"
	"AccountPilot/internal/retry"
	"AccountPilot/internal/roundrobin"
)

var (
	// ErrMalformedPayload is returned when a successful response lacks a field we branch on.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrRejected is returned when the service accepted the call but refused the purchase.
	ErrRejected = errors.New("rejected by service")

	// ErrNoRefreshCredential is returned when an account has nothing to refresh with.
	ErrNoRefreshCredential = errors.New("no refresh credential")
)

// EventSink receives action events.
type EventSink interface {
	Appendf(accountID string, sev model.Severity, format string, args ...any) model.Event
}

// Service runs account actions against the remote service.
type Service struct {
	exec   *remote.Executor
	coord  *retry.Coordinator
	reg    *registry.Registry
	creds  credential.Store
	events EventSink
	rec    recorder.Recorder
	now    func() time.Time
}

// New creates a Service and the coordinator it uses. The service is the
// coordinator's session refresher and the registry its failure tracker.
func New(exec *remote.Executor, reg *registry.Registry, creds credential.Store, events EventSink, rec recorder.Recorder, policy retry.Policy) *Service {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	s := &Service{
		exec:   exec,
		reg:    reg,
		creds:  creds,
		events: events,
		rec:    rec,
		now:    time.Now,
	}
	s.coord = retry.New(policy, s, reg)
	return s
}

// Coordinator returns the retry coordinator shared by all actions.
func (s *Service) Coordinator() *retry.Coordinator {
	return s.coord
}

var (
	_ retry.Refresher    = (*Service)(nil)
	_ roundrobin.Actions = (*Service)(nil)
)

// RefreshSession exchanges the refresh credential for a new session. It is a
// single attempt; a rotated refresh credential is stored and persisted.
func (s *Service) RefreshSession(ctx context.Context, id string) error {
	refresh, _, err := s.reg.Credentials(id)
	if err != nil {
		return err
	}
	if refresh == "" {
		return fmt.Errorf("%w: %s", ErrNoRefreshCredential, id)
	}

	o := s.exec.CallWithToken(ctx, refresh, remote.Request{
		Endpoint: remote.EndpointRefresh,
		Method:   http.MethodPost,
		Payload:  map[string]any{"refresh_token": refresh},
	})
	if !o.IsOK() {
		s.reg.ClearSession(id)
		return fmt.Errorf("refresh session: %w", o.Err())
	}

	session := o.Text("session_token")
	if session == "" {
		return fmt.Errorf("refresh session: %w: missing session_token", ErrMalformedPayload)
	}
	var expires time.Time
	if secs, ok := o.Int("expires_in"); ok && secs > 0 {
		expires = s.now().Add(time.Duration(secs) * time.Second)
	}
	if err := s.reg.SetSession(id, session, expires); err != nil {
		return err
	}

	if rotated := o.Text("refresh_token"); rotated != "" && rotated != refresh {
		if err := s.reg.RotateRefreshToken(id, rotated); err != nil {
			return err
		}
		if s.creds != nil {
			if err := s.creds.Persist(id, credential.FieldRefreshToken, rotated); err != nil {
				s.events.Appendf(id, model.SeverityWarn, "persist rotated refresh credential: %v", err)
			}
		}
		s.events.Appendf(id, model.SeverityInfo, "refresh credential rotated")
	}
	return nil
}

// FetchFunds reads and stores the account balance.
func (s *Service) FetchFunds(ctx context.Context, id string) (int64, error) {
	o, err := s.coord.Do(ctx, id, "funds", s.call(id, remote.EndpointFunds, http.MethodGet, nil))
	if err != nil {
		return 0, err
	}
	balance, ok := o.Int("balance")
	if !ok {
		return 0, fmt.Errorf("funds: %w: missing balance", ErrMalformedPayload)
	}
	if err := s.reg.SetFunds(id, balance); err != nil {
		return 0, err
	}
	s.record(&model.ActionRecord{AccountID: id, Kind: "FUNDS", Success: true, Funds: balance})
	return balance, nil
}

// Composite purchases then spins. The spin is only attempted after the
// purchase succeeded; a failed spin is reported as a partial success and
// the purchase is not compensated.
func (s *Service) Composite(ctx context.Context, id string) (roundrobin.ActionResult, error) {
	var res roundrobin.ActionResult

	purchase, err := s.coord.Do(ctx, id, "purchase", s.call(id, remote.EndpointPurchase, http.MethodPost, nil))
	if err != nil {
		s.record(&model.ActionRecord{AccountID: id, Kind: "COMPOSITE", Note: "purchase: " + err.Error()})
		return res, fmt.Errorf("purchase: %w", err)
	}
	if purchase.Bool("failed") {
		reason := purchase.Text("reason")
		s.record(&model.ActionRecord{AccountID: id, Kind: "COMPOSITE", Note: "purchase rejected: " + reason})
		return res, fmt.Errorf("purchase: %w: %s", ErrRejected, reason)
	}

	spin, err := s.coord.Do(ctx, id, "spin", s.call(id, remote.EndpointSpin, http.MethodPost, nil))
	if err != nil {
		s.record(&model.ActionRecord{AccountID: id, Kind: "COMPOSITE", Partial: true, Note: "spin: " + err.Error()})
		return res, fmt.Errorf("spin after purchase: %w: %w", roundrobin.ErrPartialSuccess, err)
	}

	if bal, ok := spin.Int("balance"); ok {
		res.Funds, res.FundsKnown = bal, true
	} else if bal, ok := purchase.Int("balance"); ok {
		res.Funds, res.FundsKnown = bal, true
	}

	if spin.Bool("needs_pack_open") {
		if _, err := s.coord.Do(ctx, id, "open pack", s.call(id, remote.EndpointOpenPack, http.MethodPost, nil)); err != nil {
			s.events.Appendf(id, model.SeverityWarn, "open pack: %v", err)
		} else {
			res.PacksOpened = 1
		}
	}

	s.record(&model.ActionRecord{AccountID: id, Kind: "COMPOSITE", Success: true, Funds: res.Funds, Note: spin.Text("prize")})
	return res, nil
}

// EndOfRound claims achievement bonuses and re-checks funds. A failed claim
// is logged; only the funds check decides the outcome.
func (s *Service) EndOfRound(ctx context.Context, id string) (int64, error) {
	o, err := s.coord.Do(ctx, id, "achievements", s.call(id, remote.EndpointAchievements, http.MethodPost, nil))
	if err != nil {
		s.events.Appendf(id, model.SeverityWarn, "claim achievements: %v", err)
	} else if n, ok := o.Int("claimed"); ok && n > 0 {
		s.reg.AddClaims(id, n)
		s.record(&model.ActionRecord{AccountID: id, Kind: "CLAIM", Success: true, Note: fmt.Sprintf("%d achievement(s)", n)})
	}
	return s.FetchFunds(ctx, id)
}

// Milestone claims a timed reward. A response with "available": false means
// nothing was due and is not an error.
func (s *Service) Milestone(ctx context.Context, id, name string) error {
	payload := map[string]any{"milestone": name}
	o, err := s.coord.Do(ctx, id, "claim "+name, s.call(id, remote.EndpointClaim, http.MethodPost, payload))
	if err != nil {
		return err
	}
	if v, present := o.Payload["available"]; present && v == false {
		s.events.Appendf(id, model.SeverityDebug, "milestone %s: nothing to claim", name)
		return nil
	}
	s.reg.AddClaims(id, 1)
	s.updateFunds(id, o)
	s.record(&model.ActionRecord{AccountID: id, Kind: "CLAIM", Success: true, Note: name})
	return nil
}

// FreeAction performs the paced free spin.
func (s *Service) FreeAction(ctx context.Context, id string) error {
	o, err := s.coord.Do(ctx, id, "free spin", s.call(id, remote.EndpointFreeSpin, http.MethodPost, nil))
	if err != nil {
		return err
	}
	s.reg.AddFreeActions(id, 1)
	s.updateFunds(id, o)
	s.record(&model.ActionRecord{AccountID: id, Kind: "FREE", Success: true, Note: o.Text("prize")})
	return nil
}

func (s *Service) call(id string, ep remote.Endpoint, method string, payload map[string]any) retry.Operation {
	req := remote.Request{Endpoint: ep, Method: method, Auth: true, Payload: payload}
	return func(ctx context.Context) remote.Outcome {
		return s.exec.Execute(ctx, id, req)
	}
}

func (s *Service) updateFunds(id string, o remote.Outcome) {
	if bal, ok := o.Int("balance"); ok {
		s.reg.SetFunds(id, bal)
	}
}

func (s *Service) record(rec *model.ActionRecord) {
	if err := s.rec.RecordAction(rec); err != nil {
		log.Printf("[WARN] record action for %s: %v", rec.AccountID, err)
	}
}
