package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"visita/api/internal/archive"
	"visita/api/internal/auth"
	"visita/api/internal/authpw"
	"visita/api/internal/config"
	"visita/api/internal/notify"
	"visita/api/internal/profile"
	"visita/api/internal/rbac"
	"visita/api/internal/search"
	"visita/api/internal/store"
	"visita/api/internal/util"
	"visita/api/internal/workflow"
)

// Session is an authenticated staff session resolved from a bearer token.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Parish       string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetStaffByID(context.Context, string) (store.StaffUser, error)
	ListStaffEmailsByRole(context.Context, string) ([]string, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateProfile(context.Context, *profile.Profile) error
	GetProfile(context.Context, string) (*profile.Profile, error)
	UpdateProfileCAS(context.Context, *profile.Profile, int64) error
	ListProfiles(context.Context) ([]*profile.Profile, error)
	ListProfilesByParish(context.Context, string) ([]*profile.Profile, error)
	ListReviewQueue(context.Context) ([]*profile.Profile, error)
	ListMuseumQueue(context.Context) ([]*profile.Profile, error)
	ListPublished(context.Context) ([]*profile.Profile, error)
	AppendReviewEvent(context.Context, workflow.ReviewEntry) error
	ListReviewEvents(context.Context, string) ([]workflow.ReviewEntry, error)

	Ping(ctx context.Context) error
}

// refreshStore is satisfied by both the Redis session store and the
// Postgres fallback.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, store.StaffUser, time.Time) error
	LookupRefreshSession(context.Context, string) (store.StaffUser, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchService interface {
	Search(search.Query) search.Response
	IndexChurch(search.ChurchRecord)
	DeleteChurch(string)
}

type archiveService interface {
	RecordVersion(string, map[string]any, string, string) (archive.Commit, error)
	History(string, int) ([]archive.Commit, error)
	SnapshotAt(string, string) (map[string]any, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	notifier notify.Notifier
	search   searchService
	archive  archiveService
	mailer   *notify.SMTPNotifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, authSvc *authpw.Service, notifier notify.Notifier, searchSvc *search.Service, archiveSvc *archive.Service, mailer *notify.SMTPNotifier) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		notifier: notifier,
		search:   searchSvc,
		archive:  archiveSvc,
		mailer:   mailer,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetStaffByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.StaffUser) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   user.Role,
		Parish: user.Parish,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Parish:       user.Parish,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		Parish:    claims.Parish,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- church profiles ----

func actorFrom(session Session) workflow.Actor {
	return workflow.Actor{
		ID:   session.UserID,
		Name: session.UserName,
		Role: rbac.Normalize(session.Role),
	}
}

// ownedBy checks parish scoping. Parish secretaries may only act on records
// their parish created; other roles see everything.
func ownedBy(p *profile.Profile, session Session) bool {
	if rbac.Normalize(session.Role) != rbac.RoleParishSecretary {
		return true
	}
	return p.CreatedBy == session.UserID
}

func (s *Service) CreateChurch(ctx context.Context, raw map[string]any, session Session) (*profile.Profile, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return nil, workflow.ErrDenied("role " + session.Role + " may not create church profiles")
	}
	p := profile.Normalize(raw)
	p.ID = util.NewID("church")
	p.Status = profile.StatusDraft
	p.Pending = nil
	p.CreatedBy = session.UserID
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if strings.TrimSpace(p.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetChurch(ctx context.Context, id string, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	if !ownedBy(p, session) {
		return nil, workflow.ErrNotFound(id)
	}
	return p, nil
}

func (s *Service) ListChurches(ctx context.Context, session Session) ([]*profile.Profile, error) {
	if rbac.Normalize(session.Role) == rbac.RoleParishSecretary {
		return s.store.ListProfilesByParish(ctx, session.UserID)
	}
	return s.store.ListProfiles(ctx)
}

// UpdateChurchDraft edits live fields of an unpublished record. Published
// records must go through the staged-edit overlay instead.
func (s *Service) UpdateChurchDraft(ctx context.Context, id string, fields map[string]any, session Session) (*profile.Profile, error) {
	p, err := s.GetChurch(ctx, id, session)
	if err != nil {
		return nil, err
	}
	if !s.Can(session.Role, rbac.ActionEdit) {
		return nil, workflow.ErrDenied("role " + session.Role + " may not edit church profiles")
	}
	if p.Status != profile.StatusDraft && p.Status != profile.StatusRevisions {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"only draft or revisions profiles can be edited directly; published profiles take staged edits", nil)
	}

	next := p.Clone()
	for _, name := range profile.EditableFields {
		if value, ok := fields[name]; ok {
			next.SetField(name, value)
		}
	}
	if consent, ok := fields["dataConsent"].(bool); ok {
		next.DataConsent = consent
	}
	if consent, ok := fields["photoConsent"].(bool); ok {
		next.PhotoConsent = consent
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.writeCAS(ctx, next, p.Version); err != nil {
		return nil, err
	}
	return next, nil
}

// Transition applies a status transition and persists it with its audit
// record. Guards run inside workflow.Apply against the freshly read state.
func (s *Service) Transition(ctx context.Context, id string, action workflow.Action, session Session, notes string) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	if !ownedBy(p, session) {
		return nil, workflow.ErrNotFound(id)
	}

	res, err := workflow.Apply(p, action, actorFrom(session), notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	s.afterTransition(ctx, action, res, session)
	return res.Profile, nil
}

// ---- staged edits on published records ----

func (s *Service) StagePendingEdit(ctx context.Context, id string, fields map[string]any, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	if !ownedBy(p, session) {
		return nil, workflow.ErrNotFound(id)
	}
	res, err := workflow.StageEdit(p, fields, actorFrom(session), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	return res.Profile, nil
}

func (s *Service) ApprovePendingChanges(ctx context.Context, id string, reviewed map[string]any, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	res, err := workflow.ApprovePending(p, actorFrom(session), reviewed, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	s.publishSideEffects(res.Profile, session, "Merge approved changes")
	s.notifyCreator(ctx, res)
	return res.Profile, nil
}

func (s *Service) ForwardPendingChangesToMuseum(ctx context.Context, id string, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	res, err := workflow.ForwardPending(p, actorFrom(session), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	s.notifyRole(ctx, res, rbac.RoleMuseumResearcher)
	return res.Profile, nil
}

func (s *Service) MuseumApprovePendingChanges(ctx context.Context, id string, reviewed map[string]any, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	res, err := workflow.MuseumApprovePending(p, actorFrom(session), reviewed, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	s.publishSideEffects(res.Profile, session, "Merge museum-approved changes")
	s.notifyCreator(ctx, res)
	return res.Profile, nil
}

func (s *Service) DiscardPendingChanges(ctx context.Context, id string, session Session) (*profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	res, err := workflow.DiscardPending(p, actorFrom(session), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, res, p.Version, session); err != nil {
		return nil, err
	}
	s.notifyCreator(ctx, res)
	return res.Profile, nil
}

// ---- queues, history, public surface ----

func (s *Service) ReviewQueue(ctx context.Context, session Session) ([]*profile.Profile, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, workflow.ErrDenied("role " + session.Role + " may not read the review queue")
	}
	return s.store.ListReviewQueue(ctx)
}

func (s *Service) MuseumQueue(ctx context.Context, session Session) ([]*profile.Profile, error) {
	if !s.Can(session.Role, rbac.ActionMuseumReview) {
		return nil, workflow.ErrDenied("role " + session.Role + " may not read the museum queue")
	}
	return s.store.ListMuseumQueue(ctx)
}

func (s *Service) ReviewHistory(ctx context.Context, id string, session Session) ([]workflow.ReviewEntry, error) {
	if _, err := s.GetChurch(ctx, id, session); err != nil {
		return nil, err
	}
	return s.store.ListReviewEvents(ctx, id)
}

func (s *Service) VersionHistory(ctx context.Context, id string, session Session) ([]archive.Commit, error) {
	if _, err := s.GetChurch(ctx, id, session); err != nil {
		return nil, err
	}
	return s.archive.History(id, 50)
}

func (s *Service) VersionSnapshot(ctx context.Context, id, hash string, session Session) (map[string]any, error) {
	if _, err := s.GetChurch(ctx, id, session); err != nil {
		return nil, err
	}
	snapshot, err := s.archive.SnapshotAt(id, hash)
	if err != nil {
		return nil, workflow.ErrNotFound(id + "@" + hash)
	}
	return snapshot, nil
}

// PublicChurch returns a published profile with the staff-only overlay
// stripped, or not-found for anything unpublished.
func (s *Service) PublicChurch(ctx context.Context, id string) (map[string]any, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapProfileReadErr(err, id)
	}
	if !p.Published() {
		return nil, workflow.ErrNotFound(id)
	}
	return publicView(p), nil
}

func (s *Service) PublicChurches(ctx context.Context) ([]map[string]any, error) {
	published, err := s.store.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(published))
	for _, p := range published {
		items = append(items, publicView(p))
	}
	return items, nil
}

func (s *Service) PublicSearch(q search.Query) search.Response {
	return s.search.Search(q)
}

// publicView strips the overlay and version bookkeeping before canonical
// serialization. Visitors always see the live published values.
func publicView(p *profile.Profile) map[string]any {
	clean := p.Clone()
	clean.Pending = nil
	view := clean.Canonical()
	delete(view, "version")
	delete(view, "createdBy")
	delete(view, "dataConsent")
	delete(view, "photoConsent")
	return view
}

// ---- persistence plumbing ----

// commit writes the workflow result under optimistic concurrency and then
// appends the audit record. A lost CAS race surfaces as conflict_retry with
// nothing written.
func (s *Service) commit(ctx context.Context, res *workflow.Result, expectedVersion int64, session Session) error {
	if err := s.writeCAS(ctx, res.Profile, expectedVersion); err != nil {
		return err
	}
	if err := s.store.AppendReviewEvent(ctx, res.Entry); err != nil {
		log.Printf("append review event for %s: %v", res.Entry.ProfileID, err)
	}
	return nil
}

func (s *Service) writeCAS(ctx context.Context, p *profile.Profile, expectedVersion int64) error {
	err := s.store.UpdateProfileCAS(ctx, p, expectedVersion)
	if errors.Is(err, store.ErrVersionConflict) {
		return workflow.ErrConflict()
	}
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrNotFound(p.ID)
	}
	return err
}

func mapProfileReadErr(err error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrNotFound(id)
	}
	return err
}

// afterTransition runs search, archive, and notification side effects for a
// status transition. All of them are best effort; the state change and its
// audit record are already durable.
func (s *Service) afterTransition(ctx context.Context, action workflow.Action, res *workflow.Result, session Session) {
	switch action {
	case workflow.ActionApprove, workflow.ActionMuseumApprove:
		s.publishSideEffects(res.Profile, session, "Publish church profile")
		s.notifyCreator(ctx, res)
	case workflow.ActionUnpublish:
		s.search.DeleteChurch(res.Profile.ID)
		if _, err := s.archive.RecordVersion(res.Profile.ID, publicView(res.Profile), session.UserName, "Unpublish church profile"); err != nil {
			log.Printf("archive unpublish for %s: %v", res.Profile.ID, err)
		}
		s.notifyCreator(ctx, res)
	case workflow.ActionSubmitForReview:
		s.notifyRole(ctx, res, rbac.RoleChanceryOffice)
	case workflow.ActionForwardToMuseum:
		s.notifyRole(ctx, res, rbac.RoleMuseumResearcher)
	case workflow.ActionRequestRevisions:
		s.notifyCreator(ctx, res)
	}
}

func (s *Service) publishSideEffects(p *profile.Profile, session Session, message string) {
	s.search.IndexChurch(search.RecordFor(p))
	if _, err := s.archive.RecordVersion(p.ID, publicView(p), session.UserName, message); err != nil {
		log.Printf("archive version for %s: %v", p.ID, err)
	}
}

func (s *Service) notifyRole(ctx context.Context, res *workflow.Result, role rbac.Role) {
	recipients, err := s.store.ListStaffEmailsByRole(ctx, string(role))
	if err != nil {
		log.Printf("list %s recipients: %v", role, err)
		recipients = nil
	}
	if err := s.notifier.NotifyWorkflowEvent(ctx, res.Event, recipients); err != nil {
		log.Printf("notify %s for %s: %v", role, res.Event.ProfileID, err)
	}
}

func (s *Service) notifyCreator(ctx context.Context, res *workflow.Result) {
	recipients := []string{}
	if creator, err := s.store.GetStaffByID(ctx, res.Profile.CreatedBy); err == nil && creator.Email != "" {
		recipients = append(recipients, creator.Email)
	}
	if err := s.notifier.NotifyWorkflowEvent(ctx, res.Event, recipients); err != nil {
		log.Printf("notify creator for %s: %v", res.Event.ProfileID, err)
	}
}
