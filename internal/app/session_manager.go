/**
 * @description
 * This file implements the verification session manager, the state machine
 * at the core of the engine. Each in-flight session is owned by exactly one
 * ticking goroutine, addressed by session id and cancelled through an
 * explicit handle, so timer lifetime is tied to session lifetime and nothing
 * leaks on Abandon or shutdown.
 *
 * Key properties:
 * - StartVerification is idempotent per (account, promotion): a live session
 *   is returned as-is, a terminal one is replaced by a fresh session.
 * - Claim delegates the claimable -> claimed compare-and-transition to the
 *   store; only the single winning caller proceeds to apply the settlement
 *   (ledger credit + view increment). A failure between transition and
 *   settlement is repaired by the redrive job, never by re-running Claim.
 * - Close cancels every timer and waits for the goroutines to drain.
 *
 * @dependencies
 * - context, log, sync, time: Standard Go libraries.
 * - internal/domain, internal/store: session model and persistence.
 * - pkg/rabbitmq: notification events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
	"github.com/creatorlift/promotion-engine/pkg/rabbitmq"
)

// Launcher presents a promotion's target URL on an external surface. The
// launcher's return says nothing about whether the user watched anything;
// the reward gate is elapsed time only.
type Launcher interface {
	Open(ctx context.Context, targetURL, accountID, sessionID string) error
}

// SessionManager owns every in-flight verification session and its timer.
type SessionManager struct {
	repo          store.Repository
	launcher      Launcher
	eventProducer rabbitmq.Publisher
	exchange      string
	duration      int
	tick          time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]context.CancelFunc
	closed bool

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSessionManager creates a session manager. durationTicks is the number
// of timer ticks a session counts down before becoming claimable.
func NewSessionManager(repo store.Repository, launcher Launcher, producer rabbitmq.Publisher, exchange string, durationTicks int, tick time.Duration) *SessionManager {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		repo:          repo,
		launcher:      launcher,
		eventProducer: producer,
		exchange:      exchange,
		duration:      durationTicks,
		tick:          tick,
		timers:        make(map[uuid.UUID]context.CancelFunc),
		rootCtx:       rootCtx,
		cancel:        cancel,
	}
}

// StartVerification begins (or returns) the verification session for an
// account against a promotion. A live session for the pair is returned
// unchanged; otherwise a fresh session is created, the content launcher is
// fired without blocking, and the countdown starts.
func (m *SessionManager) StartVerification(ctx context.Context, accountID, promotionID uuid.UUID) (*domain.VerificationSession, error) {
	promo, err := m.repo.FindPromotionByID(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if promo.CreatorAccountID == accountID {
		return nil, ErrOwnPromotion
	}

	session := &domain.VerificationSession{
		ID:          uuid.New(),
		PromotionID: promotionID,
		AccountID:   accountID,
		State:       domain.SessionLaunched,
		Remaining:   m.duration,
	}
	session, created, err := m.repo.CreateVerificationSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if !created {
		// Idempotent start: the pair already has a non-terminal session.
		return session, nil
	}

	// Present the target without blocking the caller. Launch failure is a
	// user-experience problem, not a session-state problem.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		launchCtx, cancelLaunch := context.WithTimeout(m.rootCtx, 10*time.Second)
		defer cancelLaunch()
		if err := m.launcher.Open(launchCtx, promo.TargetURL, accountID.String(), session.ID.String()); err != nil {
			log.Printf("level=warn component=session_manager msg=\"content launch failed\" session_id=%s err=%v", session.ID, err)
		}
	}()

	if err := m.repo.AdvanceSessionState(ctx, session.ID, domain.SessionLaunched, domain.SessionCounting); err != nil {
		return nil, fmt.Errorf("failed to start countdown: %w", err)
	}
	session.State = domain.SessionCounting

	m.startTimer(session.ID, session.Remaining)
	log.Printf("level=info component=session_manager msg=\"verification started\" session_id=%s promotion_id=%s account_id=%s ticks=%d", session.ID, promotionID, accountID, session.Remaining)
	return session, nil
}

// Claim redeems a claimable session. Exactly one of any number of racing
// claims wins the state transition; the winner applies the settlement and
// reports the reward. Losers receive the state-specific store error.
func (m *SessionManager) Claim(ctx context.Context, sessionID, accountID uuid.UUID) (int64, error) {
	session, err := m.repo.FindSessionByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session.AccountID != accountID {
		return 0, ErrNotSessionOwner
	}

	session, settlement, err := m.repo.ClaimSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	// The transition has committed; the timer (if any survived) is moot.
	m.cancelTimer(sessionID)

	if err := m.repo.ApplyClaimSettlement(ctx, *settlement); err != nil {
		// The claim itself stands. The settlement row is durable and the
		// redrive job will apply the credit and the view increment.
		log.Printf("level=error component=session_manager msg=\"settlement apply failed; redrive will retry\" session_id=%s settlement_id=%s err=%v", sessionID, settlement.ID, err)
		return 0, fmt.Errorf("%w: %v", ErrSettlementDeferred, err)
	}

	m.publish("reward.claimed", domain.RewardClaimedEvent{
		SessionID:   session.ID,
		AccountID:   session.AccountID,
		PromotionID: session.PromotionID,
		Reward:      settlement.RewardAmount,
		Timestamp:   time.Now().UTC(),
	})
	log.Printf("level=info component=session_manager msg=\"reward claimed\" session_id=%s account_id=%s reward=%d", sessionID, accountID, settlement.RewardAmount)
	return settlement.RewardAmount, nil
}

// Abandon expires a non-terminal session and releases its timer. It never
// touches the ledger or the catalog. Abandoning a terminal session is a
// benign no-op.
func (m *SessionManager) Abandon(ctx context.Context, sessionID, accountID uuid.UUID) error {
	session, err := m.repo.FindSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AccountID != accountID {
		return ErrNotSessionOwner
	}

	expired, err := m.repo.ExpireSession(ctx, sessionID)
	if err != nil {
		return err
	}
	m.cancelTimer(sessionID)
	if expired {
		log.Printf("level=info component=session_manager msg=\"verification abandoned\" session_id=%s account_id=%s", sessionID, accountID)
	}
	return nil
}

// Resume restarts timers for sessions left counting by a previous process,
// using their persisted remaining ticks. Call once on startup.
func (m *SessionManager) Resume(ctx context.Context) error {
	sessions, err := m.repo.ListCountingSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.Remaining <= 0 {
			if err := m.repo.MarkSessionClaimable(ctx, session.ID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
				log.Printf("level=warn component=session_manager msg=\"resume promotion to claimable failed\" session_id=%s err=%v", session.ID, err)
			}
			continue
		}
		m.startTimer(session.ID, session.Remaining)
	}
	if len(sessions) > 0 {
		log.Printf("level=info component=session_manager msg=\"resumed counting sessions\" count=%d", len(sessions))
	}
	return nil
}

// Close cancels every timer and waits for all session goroutines to exit.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *SessionManager) startTimer(sessionID uuid.UUID, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if cancelPrev, ok := m.timers[sessionID]; ok {
		cancelPrev()
	}
	timerCtx, cancelTimer := context.WithCancel(m.rootCtx)
	m.timers[sessionID] = cancelTimer

	m.wg.Add(1)
	go m.runTimer(timerCtx, sessionID, remaining)
}

// runTimer is the per-session countdown. It persists every tick so a
// restarted process can resume where this one left off, and stops on its
// own the moment the session is no longer counting.
func (m *SessionManager) runTimer(ctx context.Context, sessionID uuid.UUID, remaining int) {
	defer m.wg.Done()
	defer m.removeTimer(sessionID)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining--
			if remaining > 0 {
				if err := m.repo.UpdateSessionRemaining(ctx, sessionID, remaining); err != nil {
					if errors.Is(err, store.ErrInvalidTransition) {
						// Session advanced or expired underneath us.
						return
					}
					log.Printf("level=warn component=session_manager msg=\"tick persist failed\" session_id=%s err=%v", sessionID, err)
				}
				continue
			}

			if err := m.repo.MarkSessionClaimable(ctx, sessionID); err != nil {
				if !errors.Is(err, store.ErrInvalidTransition) {
					log.Printf("level=error component=session_manager msg=\"claimable transition failed\" session_id=%s err=%v", sessionID, err)
				}
				return
			}
			m.publish("verification.claimable", map[string]string{"session_id": sessionID.String()})
			log.Printf("level=info component=session_manager msg=\"session claimable\" session_id=%s", sessionID)
			return
		}
	}
}

func (m *SessionManager) cancelTimer(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancelTimer, ok := m.timers[sessionID]; ok {
		cancelTimer()
		delete(m.timers, sessionID)
	}
}

func (m *SessionManager) removeTimer(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, sessionID)
}

func (m *SessionManager) activeTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *SessionManager) publish(routingKey string, body interface{}) {
	if m.eventProducer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.eventProducer.Publish(ctx, m.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=session_manager msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
