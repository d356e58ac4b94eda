package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/workflow"
)

// itemSelect returns every item column plus the ordered photo list as a JSON array.
const itemSelect = `SELECT id, attrs, size, weight, carat, yahoo_id, buyer_name,
	(SELECT json_group_array(p.attachment_id ORDER BY p.position)
	   FROM item_photos p WHERE p.item_id = items.id) AS photos,
	created_at, updated_at
	FROM items`

// columns maps typed item fields to their column.
var columns = map[string]string{
	model.FieldSize:      "size",
	model.FieldWeight:    "weight",
	model.FieldCarat:     "carat",
	model.FieldYahooID:   "yahoo_id",
	model.FieldBuyerName: "buyer_name",
}

// ParseID checks that id is a well-formed item or attachment identifier and
// returns its canonical form.
func ParseID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidID, id)
	}
	return u.String(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*model.Item, error) {
	var (
		it                                model.Item
		attrs, photos                     string
		size, weight, carat, yahoo, buyer sql.NullString
	)
	if err := s.Scan(&it.ID, &attrs, &size, &weight, &carat, &yahoo, &buyer, &photos, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &it.Attrs); err != nil {
		return nil, fmt.Errorf("decoding attrs of item %s: %w", it.ID, err)
	}
	var list []string
	if err := json.Unmarshal([]byte(photos), &list); err != nil {
		return nil, fmt.Errorf("decoding photos of item %s: %w", it.ID, err)
	}
	if len(list) > 0 {
		it.Photo = list
	}
	it.Size = nullable(size)
	it.Weight = nullable(weight)
	it.Carat = nullable(carat)
	it.YahooID = nullable(yahoo)
	it.BuyerName = nullable(buyer)
	return &it, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func encodeAttrs(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encoding attrs: %w", err)
	}
	return string(b), nil
}

// ListItems returns every item matching pred. Order is creation order, but
// callers must not rely on it.
func ListItems(ctx context.Context, db *sql.DB, pred workflow.Predicate) ([]model.Item, error) {
	where, args := compile(pred)
	rows, err := db.QueryContext(ctx, itemSelect+` WHERE `+where+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, apperr.Storage("listing items", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Storage("scanning item", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("listing items", err)
	}
	return items, nil
}

// GetItem returns the item with the given id. Exactly one record must match.
func GetItem(ctx context.Context, db *sql.DB, id string) (*model.Item, error) {
	id, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, itemSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.Storage("getting item", err)
	}
	defer rows.Close()

	var found []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Storage("scanning item", err)
		}
		found = append(found, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("getting item", err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("item %s: %w", id, apperr.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("item %s matched %d records: %w", id, len(found), apperr.ErrIntegrity)
	}
}

// CreateItem stores a new item and returns its generated id.
func CreateItem(ctx context.Context, db *sql.DB, f model.Fields) (string, error) {
	attrs, err := encodeAttrs(f.Attrs)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO items (id, attrs, size, weight, carat, yahoo_id, buyer_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, attrs, f.Size, f.Weight, f.Carat, f.YahooID, f.BuyerName,
	)
	if err != nil {
		return "", apperr.Storage("creating item", err)
	}
	return id, nil
}

// UpdateItem sets the fields present in f and keeps every other field, the
// way a document $set does. Typed fields are written only when f.Sent
// reports them; attrs are merged key by key with json_patch, so a supplied
// null removes the key. The photo list is left alone. When no record
// matches, strict mode reports ErrNotFound and lenient mode succeeds silently.
func UpdateItem(ctx context.Context, db *sql.DB, id string, f model.Fields, strict bool) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	drop, patch, err := attrsPatch(f.Attrs)
	if err != nil {
		return err
	}

	// The first patch drops supplied keys, the second writes them, so nested
	// objects are replaced instead of merged.
	set := []string{`attrs = json_patch(json_patch(attrs, ?), ?)`}
	args := []any{drop, patch}
	for _, c := range typedColumns(f) {
		set = append(set, c.col+` = CASE WHEN ? THEN ? ELSE `+c.col+` END`)
		args = append(args, f.Sent(c.field), c.value)
	}
	args = append(args, id)

	result, err := db.ExecContext(ctx,
		`UPDATE items SET `+strings.Join(set, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		args...,
	)
	if err != nil {
		return apperr.Storage("updating item", err)
	}
	return checkUpdated(result, id, strict)
}

// ReplaceItem replaces every mutable field of an item. Fields missing from f
// become absent. The photo list is left alone.
func ReplaceItem(ctx context.Context, db *sql.DB, id string, f model.Fields, strict bool) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	attrs, err := encodeAttrs(f.Attrs)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE items SET attrs = ?, size = ?, weight = ?, carat = ?, yahoo_id = ?, buyer_name = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		attrs, f.Size, f.Weight, f.Carat, f.YahooID, f.BuyerName, id,
	)
	if err != nil {
		return apperr.Storage("replacing item", err)
	}
	return checkUpdated(result, id, strict)
}

type typedColumn struct {
	field, col string
	value      *string
}

// typedColumns lists the typed fields of f in a fixed order.
func typedColumns(f model.Fields) []typedColumn {
	return []typedColumn{
		{model.FieldSize, "size", f.Size},
		{model.FieldWeight, "weight", f.Weight},
		{model.FieldCarat, "carat", f.Carat},
		{model.FieldYahooID, "yahoo_id", f.YahooID},
		{model.FieldBuyerName, "buyer_name", f.BuyerName},
	}
}

// attrsPatch builds the two merge patches for UpdateItem: one nulling every
// supplied key and one carrying the new values.
func attrsPatch(attrs map[string]any) (drop, patch string, err error) {
	nulls := make(map[string]any, len(attrs))
	for k := range attrs {
		nulls[k] = nil
	}
	if drop, err = encodeAttrs(nulls); err != nil {
		return "", "", err
	}
	if patch, err = encodeAttrs(attrs); err != nil {
		return "", "", err
	}
	return drop, patch, nil
}

func checkUpdated(result sql.Result, id string, strict bool) error {
	if !strict {
		return nil
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("updating item", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// DeleteItem removes one item and its photo links.
func DeleteItem(ctx context.Context, db *sql.DB, id string) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("deleting item", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("deleting item", err)
	}
	if n != 1 {
		return fmt.Errorf("item %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AppendPhoto adds attachmentID to the end of an item's photo list in a
// single statement, so concurrent appends never lose each other.
func AppendPhoto(ctx context.Context, db *sql.DB, itemID, attachmentID string) error {
	itemID, err := ParseID(itemID)
	if err != nil {
		return err
	}
	attachmentID, err = ParseID(attachmentID)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO item_photos (item_id, attachment_id, position)
		 SELECT ?, ?, COALESCE((SELECT MAX(position) FROM item_photos WHERE item_id = ?), 0) + 1
		 WHERE EXISTS (SELECT 1 FROM items WHERE id = ?)`,
		itemID, attachmentID, itemID, itemID,
	)
	if err != nil {
		return apperr.Storage("appending photo", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("appending photo", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemID, apperr.ErrNotFound)
	}
	return nil
}

// RemovePhoto drops attachmentID from an item's photo list.
func RemovePhoto(ctx context.Context, db *sql.DB, itemID, attachmentID string) error {
	itemID, err := ParseID(itemID)
	if err != nil {
		return err
	}
	attachmentID, err = ParseID(attachmentID)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`DELETE FROM item_photos WHERE item_id = ? AND attachment_id = ?`,
		itemID, attachmentID,
	)
	if err != nil {
		return apperr.Storage("removing photo", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("removing photo", err)
	}
	if n == 0 {
		return fmt.Errorf("photo %s on item %s: %w", attachmentID, itemID, apperr.ErrNotFound)
	}
	return nil
}

// compile turns a predicate into a WHERE clause over the items table. It
// mirrors workflow.Predicate.Match: NULL, '' and empty JSON containers are
// all absent.
func compile(p workflow.Predicate) (string, []any) {
	switch p.Op {
	case workflow.OpPresent:
		return present(p.Field)
	case workflow.OpAbsent:
		cond, args := present(p.Field)
		return "NOT " + cond, args
	case workflow.OpAnd, workflow.OpOr:
		if len(p.Children) == 0 {
			if p.Op == workflow.OpAnd {
				return "1", nil
			}
			return "0", nil
		}
		joiner := " AND "
		if p.Op == workflow.OpOr {
			joiner = " OR "
		}
		parts := make([]string, len(p.Children))
		var args []any
		for i, c := range p.Children {
			cond, a := compile(c)
			parts[i] = cond
			args = append(args, a...)
		}
		return "(" + strings.Join(parts, joiner) + ")", args
	default:
		return "1", nil
	}
}

func present(field string) (string, []any) {
	switch field {
	case model.FieldID:
		return "(items.id <> '')", nil
	case model.FieldPhoto:
		return "EXISTS (SELECT 1 FROM item_photos p WHERE p.item_id = items.id)", nil
	}
	if col, ok := columns[field]; ok {
		return fmt.Sprintf("(items.%s IS NOT NULL AND items.%s <> '')", col, col), nil
	}
	return `EXISTS (SELECT 1 FROM json_each(items.attrs) j WHERE j.key = ?
		AND j.type <> 'null'
		AND NOT (j.type = 'text' AND j.value = '')
		AND NOT (j.type = 'array' AND json_array_length(j.value) = 0)
		AND NOT (j.type = 'object' AND j.value = '{}'))`, []any{field}
}

// Items adapts the item functions to the repository interface used by the
// inventory service.
type Items struct {
	DB           *sql.DB
	StrictUpdate bool
	// ReplaceOnUpdate makes Update a full replace instead of a merge.
	ReplaceOnUpdate bool
}

func (r *Items) List(ctx context.Context, pred workflow.Predicate) ([]model.Item, error) {
	return ListItems(ctx, r.DB, pred)
}

func (r *Items) Get(ctx context.Context, id string) (*model.Item, error) {
	return GetItem(ctx, r.DB, id)
}

func (r *Items) Create(ctx context.Context, f model.Fields) (string, error) {
	return CreateItem(ctx, r.DB, f)
}

func (r *Items) Update(ctx context.Context, id string, f model.Fields) error {
	if r.ReplaceOnUpdate {
		return ReplaceItem(ctx, r.DB, id, f, r.StrictUpdate)
	}
	return UpdateItem(ctx, r.DB, id, f, r.StrictUpdate)
}

func (r *Items) Delete(ctx context.Context, id string) error {
	return DeleteItem(ctx, r.DB, id)
}

func (r *Items) AppendPhoto(ctx context.Context, itemID, attachmentID string) error {
	return AppendPhoto(ctx, r.DB, itemID, attachmentID)
}

func (r *Items) RemovePhoto(ctx context.Context, itemID, attachmentID string) error {
	return RemovePhoto(ctx, r.DB, itemID, attachmentID)
}
