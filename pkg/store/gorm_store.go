package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"tripvote/pkg/domain"
)

const migrateLockID int64 = 51731057

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&RoomModel{}, &MemberModel{}, &PlaceModel{}, &RouteModel{}, &VoteModel{}, &ChatMessageModel{}, &KeepModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// At most one selected route per room, enforced by the database as well.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS ux_route_selected_per_room
			ON route_models (room_id) WHERE is_selected
		`).Error; err != nil {
			return fmt.Errorf("create selected route index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateRoom stores the room and its owner member in one transaction.
func (s *GormStore) CreateRoom(ctx context.Context, room domain.Room, owner domain.Member) error {
	roomModel := roomToModel(room)
	ownerModel := memberToModel(owner)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&roomModel).Error; err != nil {
			return err
		}
		return tx.Create(&ownerModel).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

// GetRoom retrieves a room.
func (s *GormStore) GetRoom(ctx context.Context, id string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

// GetRoomByInvite resolves an invite code.
func (s *GormStore) GetRoomByInvite(ctx context.Context, code string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.WithContext(ctx).First(&model, "invite_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

// UpdateRoomStatus updates status where the current status is one of from.
func (s *GormStore) UpdateRoomStatus(ctx context.Context, id string, from []domain.RoomStatus, to domain.RoomStatus) error {
	res := s.db.WithContext(ctx).Model(&RoomModel{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrConflict(s.db.WithContext(ctx), id)
	}
	return nil
}

func (s *GormStore) missingOrConflict(tx *gorm.DB, roomID string) error {
	var model RoomModel
	if err := tx.First(&model, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: room status %s", domain.ErrConflict, model.Status)
}

// InsertMemberIfAbsent relies on the (room_id, identity_key) unique index.
func (s *GormStore) InsertMemberIfAbsent(ctx context.Context, m domain.Member) (domain.Member, bool, error) {
	db := s.db.WithContext(ctx)
	if _, ok, err := s.GetRoom(ctx, m.RoomID); err != nil {
		return domain.Member{}, false, err
	} else if !ok {
		return domain.Member{}, false, domain.ErrNotFound
	}
	model := memberToModel(m)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "identity_key"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Member{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return m, true, nil
	}
	var existing MemberModel
	if err := db.First(&existing, "room_id = ? AND identity_key = ?", m.RoomID, m.IdentityKey()).Error; err != nil {
		return domain.Member{}, false, err
	}
	return memberFromModel(existing), false, nil
}

// GetMember returns a member of a room.
func (s *GormStore) GetMember(ctx context.Context, roomID, memberID string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND room_id = ?", memberID, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// ListMembers returns members ordered by join time.
func (s *GormStore) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	var models []MemberModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Member, 0, len(models))
	for _, m := range models {
		res = append(res, memberFromModel(m))
	}
	return res, nil
}

// UpdateMember updates nickname, preferences and presence.
func (s *GormStore) UpdateMember(ctx context.Context, m domain.Member) error {
	prefs, _ := json.Marshal(m.Preferences)
	res := s.db.WithContext(ctx).Model(&MemberModel{}).
		Where("id = ? AND room_id = ?", m.ID, m.RoomID).
		Updates(map[string]any{
			"nickname":         m.Nickname,
			"preferences":      datatypes.JSON(prefs),
			"preferences_done": m.PreferencesDone,
			"active":           m.Active,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertPlaceIfAbsent stores p unless the room already has a place with its ID.
func (s *GormStore) InsertPlaceIfAbsent(ctx context.Context, p domain.PlaceRef) (domain.PlaceRef, bool, error) {
	db := s.db.WithContext(ctx)
	model := placeToModel(p)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return domain.PlaceRef{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return p, true, nil
	}
	existing, _, err := s.GetPlace(ctx, p.RoomID, p.ID)
	return existing, false, err
}

// GetPlace returns one place.
func (s *GormStore) GetPlace(ctx context.Context, roomID, id string) (domain.PlaceRef, bool, error) {
	var model PlaceModel
	if err := s.db.WithContext(ctx).First(&model, "room_id = ? AND id = ?", roomID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PlaceRef{}, false, nil
		}
		return domain.PlaceRef{}, false, err
	}
	return placeFromModel(model), true, nil
}

// ListPlaces returns places in the order of ids, skipping unknown IDs.
func (s *GormStore) ListPlaces(ctx context.Context, roomID string, ids []string) ([]domain.PlaceRef, error) {
	if len(ids) == 0 {
		return []domain.PlaceRef{}, nil
	}
	var models []PlaceModel
	if err := s.db.WithContext(ctx).Where("room_id = ? AND id IN ?", roomID, ids).Find(&models).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.PlaceRef, len(models))
	for _, m := range models {
		byID[m.ID] = placeFromModel(m)
	}
	res := make([]domain.PlaceRef, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// SaveGeneration inserts routes and flips the room to routes_generated.
func (s *GormStore) SaveGeneration(ctx context.Context, roomID string, routes []domain.Route) error {
	if len(routes) == 0 {
		return fmt.Errorf("%w: generation without routes", domain.ErrInvalidInput)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RoomModel{}).
			Where("id = ? AND status = ?", roomID, string(domain.StatusActive)).
			Updates(map[string]any{
				"status":     string(domain.StatusRoutesGenerated),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.missingOrConflict(tx, roomID)
		}
		models := make([]RouteModel, 0, len(routes))
		for i, r := range routes {
			r.RoomID = roomID
			r.IsSelected = false
			model := routeToModel(r)
			model.Position = i
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 50).Error
	})
}

// ListRoutes returns routes of a room ordered by generation then position.
func (s *GormStore) ListRoutes(ctx context.Context, roomID string) ([]domain.Route, error) {
	var models []RouteModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("position ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Route, 0, len(models))
	for _, m := range models {
		res = append(res, routeFromModel(m))
	}
	return res, nil
}

// GetRoute returns one route of a room.
func (s *GormStore) GetRoute(ctx context.Context, roomID, routeID string) (domain.Route, bool, error) {
	var model RouteModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND room_id = ?", routeID, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Route{}, false, nil
		}
		return domain.Route{}, false, err
	}
	return routeFromModel(model), true, nil
}

// SelectRoute swaps the selected route under a row lock on the room.
func (s *GormStore) SelectRoute(ctx context.Context, roomID, routeID string) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room RoomModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		status := domain.RoomStatus(room.Status)
		if status != domain.StatusRoutesGenerated && status != domain.StatusCompleted {
			return fmt.Errorf("%w: room status %s", domain.ErrConflict, status)
		}
		var target RouteModel
		if err := tx.First(&target, "id = ? AND room_id = ?", routeID, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if target.IsSelected {
			return nil
		}
		if err := tx.Model(&RouteModel{}).
			Where("room_id = ? AND is_selected = ?", roomID, true).
			Update("is_selected", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&RouteModel{}).
			Where("id = ? AND room_id = ?", routeID, roomID).
			Update("is_selected", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&RoomModel{}).Where("id = ?", roomID).Updates(map[string]any{
			"status":     string(domain.StatusCompleted),
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// UpdateRoutePlaces replaces the ordered place list of a route.
func (s *GormStore) UpdateRoutePlaces(ctx context.Context, roomID, routeID string, placeIDs []string) error {
	raw, err := json.Marshal(placeIDs)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&RouteModel{}).
		Where("id = ? AND room_id = ?", routeID, roomID).
		Update("place_ids", datatypes.JSON(raw))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetVote returns the member's vote on a subject.
func (s *GormStore) GetVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) (domain.Vote, bool, error) {
	var model VoteModel
	err := s.db.WithContext(ctx).First(&model, "subject_kind = ? AND subject_id = ? AND member_id = ?", string(kind), subjectID, memberID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Vote{}, false, nil
		}
		return domain.Vote{}, false, err
	}
	return voteFromModel(model), true, nil
}

// UpsertVote writes or replaces a vote.
func (s *GormStore) UpsertVote(ctx context.Context, v domain.Vote) error {
	model := voteToModel(v)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_kind"}, {Name: "subject_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

// DeleteVote removes a vote.
func (s *GormStore) DeleteVote(ctx context.Context, kind domain.SubjectKind, subjectID, memberID string) error {
	return s.db.WithContext(ctx).Delete(&VoteModel{}, "subject_kind = ? AND subject_id = ? AND member_id = ?", string(kind), subjectID, memberID).Error
}

// ListVotes returns all votes on a subject.
func (s *GormStore) ListVotes(ctx context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Vote, error) {
	return s.listVotes(ctx, "subject_kind = ? AND subject_id = ?", string(kind), subjectID)
}

// ListRoomVotes returns all votes in a room.
func (s *GormStore) ListRoomVotes(ctx context.Context, roomID string) ([]domain.Vote, error) {
	return s.listVotes(ctx, "room_id = ?", roomID)
}

func (s *GormStore) listVotes(ctx context.Context, query string, args ...any) ([]domain.Vote, error) {
	var models []VoteModel
	if err := s.db.WithContext(ctx).Where(query, args...).
		Order("subject_id ASC").
		Order("member_id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Vote, 0, len(models))
	for _, m := range models {
		res = append(res, voteFromModel(m))
	}
	return res, nil
}

// AppendChatMessage records a message; the database assigns its sequence.
func (s *GormStore) AppendChatMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	model := chatToModel(msg)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ChatMessage{}, err
	}
	return chatFromModel(model), nil
}

// ListChatMessages returns recent messages (newest first, then reversed to chronological).
func (s *GormStore) ListChatMessages(ctx context.Context, roomID string, channel domain.Channel, threadID string, limit int) ([]domain.ChatMessage, error) {
	query := s.db.WithContext(ctx).Where("room_id = ? AND channel = ?", roomID, string(channel))
	if threadID != "" {
		query = query.Where("thread_id = ?", threadID)
	}
	query = query.Order("created_at DESC").Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []ChatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, chatFromModel(models[i]))
	}
	return msgs, nil
}

// AddKeep adds a place to the keep list unless it is already kept.
func (s *GormStore) AddKeep(ctx context.Context, entry domain.KeepListEntry) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, entry.RoomID); err != nil {
			return err
		}
		var inRoutes int64
		if err := routesContaining(tx, entry.RoomID, entry.PlaceID).Count(&inRoutes).Error; err != nil {
			return err
		}
		if inRoutes > 0 {
			return fmt.Errorf("%w: place %s is part of a route", domain.ErrConflict, entry.PlaceID)
		}
		model := keepToModel(entry)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected == 1
		return nil
	})
	return added, err
}

// ListKeep returns the keep list ordered by insertion time.
func (s *GormStore) ListKeep(ctx context.Context, roomID string) ([]domain.KeepListEntry, error) {
	var models []KeepModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.KeepListEntry, 0, len(models))
	for _, m := range models {
		res = append(res, keepFromModel(m))
	}
	return res, nil
}

// MovePlaceToKeep removes the place from every route of the room and keeps it.
// No route is allowed to end up empty.
func (s *GormStore) MovePlaceToKeep(ctx context.Context, roomID, routeID, placeID, by string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		var source RouteModel
		if err := tx.First(&source, "id = ? AND room_id = ?", routeID, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !routeFromModel(source).HasPlace(placeID) {
			return fmt.Errorf("%w: place %s not in route", domain.ErrInvalidSubject, placeID)
		}
		var holders []RouteModel
		if err := routesContaining(tx, roomID, placeID).Find(&holders).Error; err != nil {
			return err
		}
		for _, holder := range holders {
			if len(decodeIDs(holder.PlaceIDs)) <= 1 {
				return fmt.Errorf("%w: route %s would be left without places", domain.ErrConflict, holder.ID)
			}
		}
		for _, holder := range holders {
			ids, _ := without(decodeIDs(holder.PlaceIDs), placeID)
			raw, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			if err := tx.Model(&RouteModel{}).Where("id = ?", holder.ID).Update("place_ids", datatypes.JSON(raw)).Error; err != nil {
				return err
			}
		}
		model := keepToModel(domain.KeepListEntry{
			RoomID:    roomID,
			PlaceID:   placeID,
			AddedBy:   by,
			CreatedAt: time.Now().UTC(),
		})
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
	})
}

// MovePlaceToRoute takes a place off the keep list and inserts it into a route.
func (s *GormStore) MovePlaceToRoute(ctx context.Context, roomID, routeID, placeID string, index int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		var target RouteModel
		if err := tx.First(&target, "id = ? AND room_id = ?", routeID, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		res := tx.Delete(&KeepModel{}, "room_id = ? AND place_id = ?", roomID, placeID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: place %s not in keep list", domain.ErrInvalidSubject, placeID)
		}
		ids := insertAt(decodeIDs(target.PlaceIDs), placeID, index)
		raw, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return tx.Model(&RouteModel{}).Where("id = ?", routeID).Update("place_ids", datatypes.JSON(raw)).Error
	})
}

func lockRoom(tx *gorm.DB, roomID string) error {
	var room RoomModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func routesContaining(tx *gorm.DB, roomID, placeID string) *gorm.DB {
	return tx.Model(&RouteModel{}).Where("room_id = ? AND place_ids @> jsonb_build_array(?::text)", roomID, placeID)
}

func statusStrings(statuses []domain.RoomStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func encodeIDs(ids []string) datatypes.JSON {
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	return raw
}

func decodeIDs(raw datatypes.JSON) []string {
	var ids []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids
}

func roomToModel(r domain.Room) RoomModel {
	return RoomModel{
		ID:            r.ID,
		Title:         r.Title,
		Status:        string(r.Status),
		OwnerUserID:   r.OwnerUserID,
		OwnerMemberID: r.OwnerMember,
		InviteCode:    r.InviteCode,
		TripDate:      r.TripDate,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		BudgetMin:     r.BudgetMin,
		BudgetMax:     r.BudgetMax,
		Districts:     encodeIDs(r.Districts),
		MustVisit:     encodeIDs(r.MustVisit),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func roomFromModel(m RoomModel) domain.Room {
	return domain.Room{
		ID:          m.ID,
		Title:       m.Title,
		Status:      domain.RoomStatus(m.Status),
		OwnerUserID: m.OwnerUserID,
		OwnerMember: m.OwnerMemberID,
		InviteCode:  m.InviteCode,
		TripDate:    m.TripDate,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
		BudgetMin:   m.BudgetMin,
		BudgetMax:   m.BudgetMax,
		Districts:   decodeIDs(m.Districts),
		MustVisit:   decodeIDs(m.MustVisit),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func memberToModel(m domain.Member) MemberModel {
	prefs, _ := json.Marshal(m.Preferences)
	return MemberModel{
		ID:              m.ID,
		RoomID:          m.RoomID,
		IdentityKey:     m.IdentityKey(),
		UserID:          m.UserID,
		AnonymousID:     m.AnonymousID,
		Nickname:        m.Nickname,
		Preferences:     prefs,
		PreferencesDone: m.PreferencesDone,
		Active:          m.Active,
		JoinedAt:        m.JoinedAt,
	}
}

func memberFromModel(m MemberModel) domain.Member {
	var prefs domain.Preferences
	if len(m.Preferences) > 0 {
		_ = json.Unmarshal(m.Preferences, &prefs)
	}
	return domain.Member{
		ID:              m.ID,
		RoomID:          m.RoomID,
		UserID:          m.UserID,
		AnonymousID:     m.AnonymousID,
		Nickname:        m.Nickname,
		Preferences:     prefs,
		PreferencesDone: m.PreferencesDone,
		Active:          m.Active,
		JoinedAt:        m.JoinedAt,
	}
}

func placeToModel(p domain.PlaceRef) PlaceModel {
	return PlaceModel{
		RoomID:   p.RoomID,
		ID:       p.ID,
		Name:     p.Name,
		Category: p.Category,
		Address:  p.Address,
		Lat:      p.Lat,
		Lng:      p.Lng,
		Source:   string(p.Source),
	}
}

func placeFromModel(m PlaceModel) domain.PlaceRef {
	return domain.PlaceRef{
		ID:       m.ID,
		RoomID:   m.RoomID,
		Name:     m.Name,
		Category: m.Category,
		Address:  m.Address,
		Lat:      m.Lat,
		Lng:      m.Lng,
		Source:   domain.PlaceSource(m.Source),
	}
}

func routeToModel(r domain.Route) RouteModel {
	return RouteModel{
		ID:            r.ID,
		RoomID:        r.RoomID,
		Title:         r.Title,
		Summary:       r.Summary,
		PlaceIDs:      encodeIDs(r.PlaceIDs),
		TravelMinutes: r.TravelMinutes,
		Cost:          r.Cost,
		IsSelected:    r.IsSelected,
		Source:        string(r.Source),
		GenerationID:  r.GenerationID,
		CreatedAt:     r.CreatedAt,
	}
}

func routeFromModel(m RouteModel) domain.Route {
	return domain.Route{
		ID:            m.ID,
		RoomID:        m.RoomID,
		Title:         m.Title,
		Summary:       m.Summary,
		PlaceIDs:      decodeIDs(m.PlaceIDs),
		TravelMinutes: m.TravelMinutes,
		Cost:          m.Cost,
		IsSelected:    m.IsSelected,
		Source:        domain.RouteSource(m.Source),
		GenerationID:  m.GenerationID,
		CreatedAt:     m.CreatedAt,
	}
}

func voteToModel(v domain.Vote) VoteModel {
	return VoteModel{
		SubjectKind: string(v.SubjectKind),
		SubjectID:   v.SubjectID,
		MemberID:    v.MemberID,
		RoomID:      v.RoomID,
		Value:       string(v.Value),
		UpdatedAt:   v.UpdatedAt,
	}
}

func voteFromModel(m VoteModel) domain.Vote {
	return domain.Vote{
		SubjectKind: domain.SubjectKind(m.SubjectKind),
		SubjectID:   m.SubjectID,
		MemberID:    m.MemberID,
		RoomID:      m.RoomID,
		Value:       domain.VoteValue(m.Value),
		UpdatedAt:   m.UpdatedAt,
	}
}

func chatToModel(msg domain.ChatMessage) ChatMessageModel {
	var author *string
	if msg.AuthorID != "" {
		value := msg.AuthorID
		author = &value
	}
	return ChatMessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Channel:   string(msg.Channel),
		AuthorID:  author,
		ThreadID:  msg.ThreadID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func chatFromModel(m ChatMessageModel) domain.ChatMessage {
	author := ""
	if m.AuthorID != nil {
		author = *m.AuthorID
	}
	return domain.ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Channel:   domain.Channel(m.Channel),
		AuthorID:  author,
		ThreadID:  m.ThreadID,
		Content:   m.Content,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
	}
}

func keepToModel(e domain.KeepListEntry) KeepModel {
	return KeepModel{
		RoomID:    e.RoomID,
		PlaceID:   e.PlaceID,
		AddedBy:   e.AddedBy,
		CreatedAt: e.CreatedAt,
	}
}

func keepFromModel(m KeepModel) domain.KeepListEntry {
	return domain.KeepListEntry{
		RoomID:    m.RoomID,
		PlaceID:   m.PlaceID,
		AddedBy:   m.AddedBy,
		CreatedAt: m.CreatedAt,
	}
}

var _ Store = (*GormStore)(nil)
var _ Store = (*MemoryStore)(nil)
