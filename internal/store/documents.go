package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"contentforge/internal/metadata"
)

// Document is one stored record. It always carries _id, createdAt and
// updatedAt alongside the model's fields.
type Document = map[string]any

// FindOptions filters and pages a collection scan.
type FindOptions struct {
	// Search is matched case-insensitively as a substring of SearchFields,
	// or of the whole document when SearchFields is empty.
	Search       string
	SearchFields []string
	// Where requires exact text equality per field.
	Where  map[string]string
	Offset int
	Limit  int
}

// InsertDocument stores data as a new document and returns it with system keys.
func (s *Store) InsertDocument(ctx context.Context, model string, data map[string]any) (Document, error) {
	id := uuid.New().String()
	_, ts := s.timestamp()

	body, err := encodeData(data)
	if err != nil {
		return nil, err
	}

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO %s (id, data, created_at, updated_at) VALUES (%s, %s, %s, %s)",
		TableName(model), pb.Add(id), s.Dialect.JSONValue(pb.Add(body)), pb.Add(ts), pb.Add(ts))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", model, s.Dialect.MapError(err))
	}

	return withSystemKeys(data, id, ts, ts), nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, model, id string) (Document, error) {
	return s.getDocument(ctx, s.DB, model, id)
}

// GetDocuments returns the documents with the given ids in the order the ids
// were given. Ids with no document are skipped.
func (s *Store) GetDocuments(ctx context.Context, model string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}

	pb := s.Dialect.NewParamBuilder()
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = pb.Add(id)
	}
	query := fmt.Sprintf("SELECT id, %s AS data, created_at, updated_at FROM %s WHERE id IN (%s)",
		s.Dialect.JSONColumn("data"), TableName(model), strings.Join(placeholders, ", "))
	rows, err := QueryRows(ctx, s.DB, query, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("get %s documents: %w", model, err)
	}

	byID := make(map[string]Document, len(rows))
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		byID[doc["_id"].(string)] = doc
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// ReplaceDocument overwrites the fields of a document, keeping its id and createdAt.
func (s *Store) ReplaceDocument(ctx context.Context, model, id string, data map[string]any) (Document, error) {
	var doc Document
	err := s.InTx(ctx, func(tx Querier) error {
		existing, err := s.getDocument(ctx, tx, model, id)
		if err != nil {
			return err
		}
		_, ts := s.timestamp()
		if err := s.writeData(ctx, tx, model, id, stripSystemKeys(data), ts); err != nil {
			return err
		}
		doc = withSystemKeys(data, id, existing["createdAt"].(string), ts)
		return nil
	})
	return doc, err
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, model, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM %s WHERE id = %s", TableName(model), pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", model, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDocuments returns documents matching opts, newest first.
func (s *Store) FindDocuments(ctx context.Context, model string, opts FindOptions) ([]Document, error) {
	pb := s.Dialect.NewParamBuilder()
	where, err := s.buildWhere(pb, opts)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id, %s AS data, created_at, updated_at FROM %s%s ORDER BY created_at DESC, id DESC",
		s.Dialect.JSONColumn("data"), TableName(model), where)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", pb.Add(opts.Limit), pb.Add(max(opts.Offset, 0)))
	}

	rows, err := QueryRows(ctx, s.DB, query, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", model, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CountDocuments counts documents matching opts, ignoring paging.
func (s *Store) CountDocuments(ctx context.Context, model string, opts FindOptions) (int64, error) {
	pb := s.Dialect.NewParamBuilder()
	where, err := s.buildWhere(pb, opts)
	if err != nil {
		return 0, err
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", TableName(model), where)
	if err := s.DB.QueryRowContext(ctx, query, pb.Params()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", model, err)
	}
	return n, nil
}

// AddToSet appends value to the list field of each listed document unless it
// is already present. Missing documents are skipped.
func (s *Store) AddToSet(ctx context.Context, model string, ids []string, field, value string) error {
	return s.InTx(ctx, func(tx Querier) error {
		for _, id := range ids {
			doc, err := s.getDocument(ctx, tx, model, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			list := toStringList(doc[field])
			if slices.Contains(list, value) {
				continue
			}
			doc[field] = append(list, value)
			_, ts := s.timestamp()
			if err := s.writeData(ctx, tx, model, id, stripSystemKeys(doc), ts); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pull removes value from the list field of the listed documents, or of every
// document in the collection when ids is nil.
func (s *Store) Pull(ctx context.Context, model string, ids []string, field, value string) error {
	return s.InTx(ctx, func(tx Querier) error {
		if ids == nil {
			all, err := QueryRows(ctx, tx, fmt.Sprintf("SELECT id FROM %s", TableName(model)))
			if err != nil {
				return fmt.Errorf("scan %s: %w", model, err)
			}
			for _, row := range all {
				ids = append(ids, fmt.Sprint(row["id"]))
			}
		}

		for _, id := range ids {
			doc, err := s.getDocument(ctx, tx, model, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			list := toStringList(doc[field])
			kept := slices.DeleteFunc(slices.Clone(list), func(v string) bool { return v == value })
			if len(kept) == len(list) {
				continue
			}
			doc[field] = kept
			_, ts := s.timestamp()
			if err := s.writeData(ctx, tx, model, id, stripSystemKeys(doc), ts); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) getDocument(ctx context.Context, q Querier, model, id string) (Document, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT id, %s AS data, created_at, updated_at FROM %s WHERE id = %s",
		s.Dialect.JSONColumn("data"), TableName(model), pb.Add(id))
	row, err := QueryRow(ctx, q, query, pb.Params()...)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", model, err)
	}
	return decodeRow(row)
}

func (s *Store) writeData(ctx context.Context, q Querier, model, id string, data map[string]any, ts string) error {
	body, err := encodeData(data)
	if err != nil {
		return err
	}
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("UPDATE %s SET data = %s, updated_at = %s WHERE id = %s",
		TableName(model), s.Dialect.JSONValue(pb.Add(body)), pb.Add(ts), pb.Add(id))
	n, err := Exec(ctx, q, query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update %s: %w", model, s.Dialect.MapError(err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// likeEscaper makes a search term match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *Store) buildWhere(pb ParamBuilder, opts FindOptions) (string, error) {
	var clauses []string

	fields := make([]string, 0, len(opts.Where))
	for f := range opts.Where {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		if !metadata.IsIdentifier(f) {
			return "", fmt.Errorf("invalid filter field %q", f)
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", s.Dialect.JSONText("data", f), pb.Add(opts.Where[f])))
	}

	if opts.Search != "" {
		pattern := pb.Add("%" + likeEscaper.Replace(strings.ToLower(opts.Search)) + "%")
		if len(opts.SearchFields) == 0 {
			clauses = append(clauses, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, s.Dialect.JSONColumn("data"), pattern))
		} else {
			var ors []string
			for _, f := range opts.SearchFields {
				if !metadata.IsIdentifier(f) {
					return "", fmt.Errorf("invalid search field %q", f)
				}
				ors = append(ors, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, s.Dialect.JSONText("data", f), pattern))
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func decodeRow(row map[string]any) (Document, error) {
	doc := Document{}
	if raw, ok := row["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode document %v: %w", row["id"], err)
		}
	}
	doc["_id"] = fmt.Sprint(row["id"])
	doc["createdAt"] = fmt.Sprint(row["created_at"])
	doc["updatedAt"] = fmt.Sprint(row["updated_at"])
	return doc, nil
}

func encodeData(data map[string]any) (string, error) {
	body, err := json.Marshal(stripSystemKeys(data))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(body), nil
}

func stripSystemKeys(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "_id", "createdAt", "updatedAt":
			continue
		}
		out[k] = v
	}
	return out
}

func withSystemKeys(data map[string]any, id, createdAt, updatedAt string) Document {
	doc := stripSystemKeys(data)
	doc["_id"] = id
	doc["createdAt"] = createdAt
	doc["updatedAt"] = updatedAt
	return doc
}

func toStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
