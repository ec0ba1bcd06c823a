package gorm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nostrmail/relay/lib/kinds"
	"github.com/nostrmail/relay/lib/stores"
)

// DefaultQueryLimit caps a single filter's candidate set when the client
// sends no limit of its own.
const DefaultQueryLimit = 500

// eventRow is the relational shape of a stored event. Tags are kept twice:
// the full ordered list as JSON on the row, and one event_tags row per tag
// for candidate queries. The side table indexes every tag, not just the
// first of each name, so tag-constrained candidate queries over-fetch
// rather than miss.
type eventRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Pubkey    string `gorm:"size:64;index:idx_events_identity"`
	Kind      int    `gorm:"index:idx_events_identity;index"`
	// autoCreateTime is disabled: this column is the event's signed
	// timestamp, not a row bookkeeping field, and a zero value is valid
	CreatedAt int64  `gorm:"index;autoCreateTime:false"`
	DTag      string `gorm:"index:idx_events_identity"`
	Tags      string
	Content   string
	Sig       string `gorm:"size:128"`
}

func (eventRow) TableName() string { return "events" }

type eventTagRow struct {
	ID      uint   `gorm:"primaryKey"`
	EventID string `gorm:"size:64;index"`
	Name    string `gorm:"index:idx_event_tags_lookup"`
	Value   string `gorm:"index:idx_event_tags_lookup"`
}

func (eventTagRow) TableName() string { return "event_tags" }

// GormEventStore implements stores.Store over a relational database.
type GormEventStore struct {
	DB         *gorm.DB
	queryLimit int
}

// InitStore opens the sqlite database at path and migrates the event
// schema. queryLimit <= 0 selects DefaultQueryLimit.
func InitStore(path string, queryLimit int) (*GormEventStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	store := &GormEventStore{DB: db, queryLimit: queryLimit}
	if err := store.Init(); err != nil {
		return nil, err
	}

	return store, nil
}

// Init migrates the schema. Split out of InitStore so tests can hand in
// their own *gorm.DB.
func (store *GormEventStore) Init() error {
	if store.queryLimit <= 0 {
		store.queryLimit = DefaultQueryLimit
	}

	if err := store.DB.AutoMigrate(&eventRow{}, &eventTagRow{}); err != nil {
		return fmt.Errorf("failed to migrate event schema: %w", err)
	}

	return nil
}

// CreateEvent inserts a regular event (or a deletion tombstone). Reports
// false when the id is already stored.
func (store *GormEventStore) CreateEvent(event *nostr.Event) (bool, error) {
	created := false

	err := store.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&eventRow{}).Where("id = ?", event.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if err := insertEvent(tx, event); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to store event %s: %w", event.ID, err)
	}

	return created, nil
}

// UpsertEvent stores a replaceable event, keeping only the newest
// created_at per identity key. The read-compare-replace is transactional so
// concurrent upserts on the same key cannot lose the newest version.
func (store *GormEventStore) UpsertEvent(event *nostr.Event) (bool, error) {
	class := kinds.Classify(event.Kind)
	if class != kinds.Replaceable && class != kinds.ParameterizedReplaceable {
		return false, stores.ErrNotReplaceable
	}

	stored := false

	err := store.DB.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("pubkey = ? AND kind = ?", event.PubKey, event.Kind)
		if class == kinds.ParameterizedReplaceable {
			query = query.Where("d_tag = ?", firstTagValue(event.Tags, "d"))
		}

		var existing []eventRow
		if err := query.Find(&existing).Error; err != nil {
			return err
		}

		for _, old := range existing {
			if old.CreatedAt >= event.CreatedAt.Time().Unix() {
				// Incoming version is stale, keep what we have
				return nil
			}
		}

		for _, old := range existing {
			if err := deleteEventRows(tx, old.ID); err != nil {
				return err
			}
		}

		if err := insertEvent(tx, event); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert event %s: %w", event.ID, err)
	}

	return stored, nil
}

// DeleteEvents processes a kind-5 deletion event: e tags delete by id, a
// tags delete by (kind, pubkey, d-tag) triple. Either way an event is only
// removed when its author matches the deletion's author. The deletion event
// itself is not stored here; callers create it afterwards, which also keeps
// it from deleting itself mid-flight.
func (store *GormEventStore) DeleteEvents(deletion *nostr.Event) error {
	if deletion.Kind != kinds.KindDeletion {
		return stores.ErrNotDeletion
	}

	return store.DB.Transaction(func(tx *gorm.DB) error {
		for _, tag := range deletion.Tags {
			if len(tag) < 2 {
				continue
			}

			switch tag[0] {
			case "e":
				var target eventRow
				err := tx.Where("id = ?", tag[1]).First(&target).Error
				if err == gorm.ErrRecordNotFound {
					continue
				}
				if err != nil {
					return err
				}
				if target.Pubkey != deletion.PubKey {
					// Ownership check: never delete another author's event
					continue
				}
				if err := deleteEventRows(tx, target.ID); err != nil {
					return err
				}

			case "a":
				kind, pubkey, dTag, ok := parseAddressTag(tag[1])
				if !ok || pubkey != deletion.PubKey {
					continue
				}
				if kinds.Classify(kind) != kinds.ParameterizedReplaceable {
					continue
				}

				var targets []eventRow
				err := tx.Where("kind = ? AND pubkey = ? AND d_tag = ?", kind, pubkey, dTag).Find(&targets).Error
				if err != nil {
					return err
				}
				for _, target := range targets {
					if err := deleteEventRows(tx, target.ID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// QueryEvents translates each filter into a bounded candidate query, unions
// the results, and returns them ascending by created_at. The result is a
// superset: non-indexable constraints (non-hex prefixes for example) widen
// the query instead of narrowing it wrongly, and callers re-apply the exact
// matcher before delivery.
func (store *GormEventStore) QueryEvents(filters []nostr.Filter) ([]*nostr.Event, error) {
	seen := make(map[string]struct{})
	var events []*nostr.Event

	for _, filter := range filters {
		rows, err := store.queryFilter(filter)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if _, dup := seen[rows[i].ID]; dup {
				continue
			}
			seen[rows[i].ID] = struct{}{}

			event, err := rowToEvent(&rows[i])
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt < events[j].CreatedAt
	})

	return events, nil
}

func (store *GormEventStore) queryFilter(filter nostr.Filter) ([]eventRow, error) {
	// An explicit "limit":0 asks for live events only; the default cap
	// applies only when the limit is absent
	if filter.LimitZero {
		return nil, nil
	}

	query := store.DB.Model(&eventRow{})

	if condition, args, ok := prefixCondition("id", filter.IDs); ok {
		query = query.Where(condition, args...)
	}
	if condition, args, ok := prefixCondition("pubkey", filter.Authors); ok {
		query = query.Where(condition, args...)
	}
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", int64(*filter.Since))
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", int64(*filter.Until))
	}

	for name, values := range filter.Tags {
		if len(values) == 0 {
			// Unsatisfiable constraint, nothing can match this filter
			return nil, nil
		}
		query = query.Where(
			"EXISTS (SELECT 1 FROM event_tags WHERE event_tags.event_id = events.id AND event_tags.name = ? AND event_tags.value IN ?)",
			strings.TrimPrefix(name, "#"), values,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.queryLimit
	}

	var rows []eventRow
	if err := query.Order("created_at asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	return rows, nil
}

// insertEvent writes the event row plus one event_tags row per tag.
func insertEvent(tx *gorm.DB, event *nostr.Event) error {
	tagsJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(event.Tags)
	if err != nil {
		return fmt.Errorf("failed to serialize tags: %w", err)
	}

	row := eventRow{
		ID:        event.ID,
		Pubkey:    event.PubKey,
		Kind:      event.Kind,
		CreatedAt: event.CreatedAt.Time().Unix(),
		DTag:      firstTagValue(event.Tags, "d"),
		Tags:      tagsJSON,
		Content:   event.Content,
		Sig:       event.Sig,
	}
	if err := tx.Create(&row).Error; err != nil {
		return err
	}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		tagRow := eventTagRow{EventID: event.ID, Name: tag[0], Value: tag[1]}
		if err := tx.Create(&tagRow).Error; err != nil {
			return err
		}
	}

	return nil
}

func deleteEventRows(tx *gorm.DB, id string) error {
	if err := tx.Where("event_id = ?", id).Delete(&eventTagRow{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&eventRow{}).Error
}

func rowToEvent(row *eventRow) (*nostr.Event, error) {
	var tags nostr.Tags
	if row.Tags != "" {
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(row.Tags, &tags); err != nil {
			return nil, fmt.Errorf("failed to deserialize tags for %s: %w", row.ID, err)
		}
	}

	return &nostr.Event{
		ID:        row.ID,
		PubKey:    row.Pubkey,
		Kind:      row.Kind,
		CreatedAt: nostr.Timestamp(row.CreatedAt),
		Tags:      tags,
		Content:   row.Content,
		Sig:       row.Sig,
	}, nil
}

// prefixCondition builds an OR group of equality/LIKE clauses for hex
// id/pubkey prefixes. Any non-hex entry disables the narrowing entirely so
// the candidate set can only grow, never shrink wrongly.
func prefixCondition(column string, prefixes []string) (string, []interface{}, bool) {
	if len(prefixes) == 0 {
		return "", nil, false
	}

	var clauses []string
	var args []interface{}
	for _, prefix := range prefixes {
		if !isHex(prefix) {
			return "", nil, false
		}
		if len(prefix) == 64 {
			clauses = append(clauses, column+" = ?")
			args = append(args, prefix)
		} else {
			clauses = append(clauses, column+" LIKE ?")
			args = append(args, prefix+"%")
		}
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args, true
}

func isHex(value string) bool {
	for _, r := range value {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return value != ""
}

func firstTagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// parseAddressTag splits a NIP-33 address value "kind:pubkey:dTag". The
// d-tag portion may itself contain colons.
func parseAddressTag(value string) (int, string, string, bool) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) < 2 {
		return 0, "", "", false
	}

	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", false
	}

	dTag := ""
	if len(parts) == 3 {
		dTag = parts[2]
	}

	return kind, parts[1], dTag, true
}
