package basket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scantally/internal/recognition"
	"scantally/internal/scan"
)

// ErrSessionNotFound is returned when a scan session ID is unknown,
// already confirmed, or abandoned
var ErrSessionNotFound = errors.New("scan session not found")

// IDGenerator generates unique IDs for sessions and baskets
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// scanSession is one live scanning flow: the accumulator plus the most
// recent frame that contributed items, kept so a confirmed basket can
// carry a receipt snapshot
type scanSession struct {
	id      string
	mode    scan.Mode
	scanner *scan.LiveScanner

	mu            sync.Mutex
	lastFrame     []byte
	lastFrameType string
}

// SessionView is the client-facing shape of a scan session
type SessionView struct {
	ID          string      `json:"id"`
	Mode        scan.Mode   `json:"mode"`
	Items       []scan.Item `json:"items"`
	TotalAmount int64       `json:"total_amount"`
}

// Service owns the live scan sessions and the persisted baskets
type Service struct {
	db          DB
	recognizer  recognition.Recognizer
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*scanSession
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer recognition.Recognizer, storage Storage) *Service {
	return NewServiceWithDeps(db, recognizer, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer recognition.Recognizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*scanSession),
	}
}

// OpenSession starts a new scan session. A non-positive minInterval
// selects the default live-scan cadence.
func (s *Service) OpenSession(mode scan.Mode, minInterval time.Duration) *SessionView {
	session := &scanSession{
		id:      s.idGenerator.Generate(),
		mode:    mode,
		scanner: scan.NewLiveScanner(s.recognizer, minInterval),
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	slog.Info("Scan session opened", "session_id", session.id, "mode", mode)
	return s.view(session)
}

// GetSession returns the current state of a scan session
func (s *Service) GetSession(id string) (*SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// ScanFrame runs one recognize-and-merge cycle against a session. The
// outcome reports throttled, empty, failed, and busy results as values;
// only an unknown session is an error.
func (s *Service) ScanFrame(ctx context.Context, id string, frame []byte, contentType string) (scan.Outcome, *SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return scan.Outcome{}, nil, err
	}

	outcome := session.scanner.ScanFrame(ctx, frame, contentType)
	if outcome.Status == scan.StatusAdded {
		session.mu.Lock()
		session.lastFrame = frame
		session.lastFrameType = contentType
		session.mu.Unlock()
	}

	return outcome, s.view(session), nil
}

// UpdateQuantity sets the quantity of an accumulated item; a quantity
// below 1 removes it
func (s *Service) UpdateQuantity(id string, index int, quantity int) (*SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := session.scanner.UpdateQuantity(index, quantity); err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// RemoveItem removes an accumulated item by index
func (s *Service) RemoveItem(id string, index int) (*SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := session.scanner.Remove(index); err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// ResetSession clears a session's items and position history
func (s *Service) ResetSession(id string) (*SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	session.scanner.Reset()

	session.mu.Lock()
	session.lastFrame = nil
	session.lastFrameType = ""
	session.mu.Unlock()

	return s.view(session), nil
}

// ConfirmSession persists the session's accumulated items as a Basket and
// closes the session. The last contributing frame, when present, is stored
// alongside as the receipt snapshot.
func (s *Service) ConfirmSession(id string) (*Basket, error) {
	// Claim the session up front so concurrent confirms of the same
	// session cannot both persist a basket. On failure the session goes
	// back into the registry.
	session, err := s.claim(id)
	if err != nil {
		return nil, err
	}

	items := session.scanner.Confirm()
	if len(items) == 0 {
		s.release(session)
		return nil, fmt.Errorf("cannot confirm an empty scan session")
	}

	basket := &Basket{
		ID:          s.idGenerator.Generate(),
		Items:       items,
		TotalAmount: session.scanner.Total(),
		CreatedAt:   s.timeSource.Now(),
	}

	session.mu.Lock()
	frame, frameType := session.lastFrame, session.lastFrameType
	session.mu.Unlock()

	if frame != nil {
		filename := fmt.Sprintf("%s%s", basket.ID, extForContentType(frameType))
		savedPath, err := s.storage.Save(filename, frame)
		if err != nil {
			s.release(session)
			return nil, fmt.Errorf("saving frame snapshot: %w", err)
		}
		basket.ImageFilename = savedPath
		basket.ImageContentType = frameType
	}

	if err := s.db.SaveBasket(basket); err != nil {
		// Clean up the snapshot if the database save fails
		if basket.ImageFilename != "" {
			s.storage.Delete(basket.ImageFilename)
		}
		s.release(session)
		return nil, fmt.Errorf("saving basket to database: %w", err)
	}

	slog.Info("Scan session confirmed", "session_id", id, "basket_id", basket.ID, "items", len(items))
	return basket, nil
}

// AbandonSession discards a session without persisting anything
func (s *Service) AbandonSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// GetBasket retrieves a basket by ID
func (s *Service) GetBasket(id string) (*Basket, error) {
	basket, err := s.db.GetBasket(id)
	if err != nil {
		return nil, fmt.Errorf("getting basket: %w", err)
	}
	return basket, nil
}

// ListBaskets returns all baskets
func (s *Service) ListBaskets() ([]*Basket, error) {
	baskets, err := s.db.ListBaskets()
	if err != nil {
		return nil, fmt.Errorf("listing baskets: %w", err)
	}
	return baskets, nil
}

// DeleteBasket removes a basket and its frame snapshot
func (s *Service) DeleteBasket(id string) error {
	basket, err := s.db.GetBasket(id)
	if err != nil {
		return fmt.Errorf("getting basket for deletion: %w", err)
	}

	if basket.ImageFilename != "" {
		if err := s.storage.Delete(basket.ImageFilename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete frame snapshot", "filename", basket.ImageFilename, "error", err)
		}
	}

	if err := s.db.DeleteBasket(id); err != nil {
		return fmt.Errorf("deleting basket from database: %w", err)
	}
	return nil
}

// GetBasketImage retrieves the frame snapshot stored with a basket
func (s *Service) GetBasketImage(id string) ([]byte, string, error) {
	basket, err := s.db.GetBasket(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting basket: %w", err)
	}
	if basket.ImageFilename == "" {
		return nil, "", fmt.Errorf("basket %s has no frame snapshot", id)
	}

	data, err := s.storage.Get(basket.ImageFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting frame snapshot: %w", err)
	}

	return data, basket.ImageContentType, nil
}

func (s *Service) lookup(id string) (*scanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// claim removes a session from the registry and hands it to the caller.
// Exactly one of two racing callers gets it; the other sees
// ErrSessionNotFound.
func (s *Service) claim(id string) (*scanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, id)
	return session, nil
}

// release puts a claimed session back after a failed confirm
func (s *Service) release(session *scanSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.id] = session
}

func (s *Service) view(session *scanSession) *SessionView {
	return &SessionView{
		ID:          session.id,
		Mode:        session.mode,
		Items:       session.scanner.Items(),
		TotalAmount: session.scanner.Total(),
	}
}

func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/heic", "image/heif":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
