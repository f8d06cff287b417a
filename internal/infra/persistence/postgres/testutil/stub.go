// Package testutil provides a stub database for postgres store tests. The
// stub understands the store's statement shapes: equality predicates, JSONB
// ->> filters with placeholder keys, IN lists, ORDER BY, and LIMIT.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// StubConn records statements and holds table contents for assertions.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error
}

var primaryKeys = map[string][]string{
	"managed_rows":        {"entity", "row_id"},
	"workspaces":          {"id"},
	"identifier_mappings": {"template_id", "session_id"},
	"snapshots":           {"template_id", "version"},
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	norm := strings.ToUpper(firstWord(query))
	switch norm {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT":
		return c.execInsert(query, args)
	case "UPDATE":
		return c.execUpdate(query, args)
	case "DELETE":
		return c.execDelete(query, args)
	}
	return driver.RowsAffected(0), nil
}

func (c *StubConn) execInsert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	pk := primaryKeys[table]
	if strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
		var kept []map[string]any
		for _, existing := range c.Tables[table] {
			if !samePK(existing, row, pk) {
				kept = append(kept, existing)
			}
		}
		c.Tables[table] = kept
	} else {
		for _, existing := range c.Tables[table] {
			if samePK(existing, row, pk) {
				return nil, &pgconn.PgError{
					Code:    "23505",
					Message: fmt.Sprintf("duplicate key value violates unique constraint %q", table+"_pkey"),
				}
			}
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) execUpdate(query string, args []driver.NamedValue) (driver.Result, error) {
	table, setCol, setIdx, where, err := parseUpdate(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	var affected int64
	for _, row := range c.Tables[table] {
		ok, err := matchRow(row, where, args)
		if err != nil {
			return nil, err
		}
		if ok {
			row[setCol] = args[setIdx-1].Value
			affected++
		}
	}
	return driver.RowsAffected(affected), nil
}

func (c *StubConn) execDelete(query string, args []driver.NamedValue) (driver.Result, error) {
	table, where, err := parseDelete(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	var kept []map[string]any
	var affected int64
	for _, row := range c.Tables[table] {
		ok, err := matchRow(row, where, args)
		if err != nil {
			return nil, err
		}
		if ok {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	c.Tables[table] = kept
	return driver.RowsAffected(affected), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	var matched []map[string]any
	for _, row := range c.Tables[sel.table] {
		ok, err := matchRow(row, sel.where, args)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	if sel.orderBy != "" {
		col, desc := sel.orderBy, sel.orderDesc
		sort.SliceStable(matched, func(i, j int) bool {
			less := compareVals(matched[i][col], matched[j][col]) < 0
			if desc {
				return !less
			}
			return less
		})
	}
	if sel.limit > 0 && len(matched) > sel.limit {
		matched = matched[:sel.limit]
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// clause is one AND-joined predicate. Either a plain column equality, a
// payload ->> equality, or an IN list over either form.
type clause struct {
	column  string
	jsonKey bool
	keyArg  int
	valArgs []int
}

type selectStmt struct {
	table     string
	cols      []string
	where     []clause
	orderBy   string
	orderDesc bool
	limit     int
}

func matchRow(row map[string]any, where []clause, args []driver.NamedValue) (bool, error) {
	for _, cl := range where {
		var actual string
		if cl.jsonKey {
			key := asString(args[cl.keyArg-1].Value)
			field, err := jsonField(row["payload"], key)
			if err != nil {
				return false, err
			}
			actual = field
		} else {
			actual = asString(row[cl.column])
		}
		hit := false
		for _, idx := range cl.valArgs {
			if actual == asString(args[idx-1].Value) {
				hit = true
				break
			}
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

func jsonField(payload any, key string) (string, error) {
	var raw []byte
	switch v := payload.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return "", fmt.Errorf("payload is not json: %T", payload)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}
	return asString(decoded[key]), nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func compareVals(a, b any) int {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(asString(a), asString(b))
}

func samePK(a, b map[string]any, pk []string) bool {
	for _, col := range pk {
		if asString(a[col]) != asString(b[col]) {
			return false
		}
	}
	return len(pk) > 0
}

func firstWord(query string) string {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	return table, cols, nil
}

func parseUpdate(query string) (string, string, int, []clause, error) {
	lower := strings.ToLower(query)
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	if !strings.HasPrefix(lower, "update ") || setIdx == -1 || whereIdx == -1 {
		return "", "", 0, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(query[len("update "):setIdx]))
	assign := strings.TrimSpace(query[setIdx+len(" set ") : whereIdx])
	parts := strings.SplitN(assign, "=", 2)
	if len(parts) != 2 {
		return "", "", 0, nil, fmt.Errorf("cannot parse update assignment: %s", query)
	}
	col := strings.ToLower(strings.TrimSpace(parts[0]))
	argIdx, err := placeholderIndex(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", 0, nil, err
	}
	where, err := parseWhere(query[whereIdx+len(" where "):])
	if err != nil {
		return "", "", 0, nil, err
	}
	return table, col, argIdx, where, nil
}

func parseDelete(query string) (string, []clause, error) {
	lower := strings.ToLower(query)
	whereIdx := strings.Index(lower, " where ")
	if !strings.HasPrefix(lower, "delete from ") || whereIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(query[len("delete from "):whereIdx]))
	where, err := parseWhere(query[whereIdx+len(" where "):])
	if err != nil {
		return "", nil, err
	}
	return table, where, nil
}

func parseSelect(query string) (selectStmt, error) {
	lower := strings.ToLower(query)
	if !strings.HasPrefix(strings.TrimSpace(lower), "select ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	stmt := selectStmt{
		cols: splitColumns(query[len("select "):fromIdx]),
	}
	rest := query[fromIdx+len(" from "):]
	lowerRest := strings.ToLower(rest)

	if limitIdx := strings.Index(lowerRest, " limit "); limitIdx != -1 {
		n, err := strconv.Atoi(strings.TrimSpace(rest[limitIdx+len(" limit "):]))
		if err != nil {
			return selectStmt{}, fmt.Errorf("cannot parse limit: %s", query)
		}
		stmt.limit = n
		rest = rest[:limitIdx]
		lowerRest = lowerRest[:limitIdx]
	}
	if orderIdx := strings.Index(lowerRest, " order by "); orderIdx != -1 {
		order := strings.Fields(strings.TrimSpace(rest[orderIdx+len(" order by "):]))
		if len(order) == 0 {
			return selectStmt{}, fmt.Errorf("cannot parse order by: %s", query)
		}
		stmt.orderBy = strings.ToLower(order[0])
		stmt.orderDesc = len(order) > 1 && strings.EqualFold(order[1], "desc")
		rest = rest[:orderIdx]
		lowerRest = lowerRest[:orderIdx]
	}
	if whereIdx := strings.Index(lowerRest, " where "); whereIdx != -1 {
		where, err := parseWhere(rest[whereIdx+len(" where "):])
		if err != nil {
			return selectStmt{}, err
		}
		stmt.where = where
		rest = rest[:whereIdx]
	}
	stmt.table = strings.ToLower(strings.TrimSpace(rest))
	if stmt.table == "" {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	return stmt, nil
}

func parseWhere(raw string) ([]clause, error) {
	var out []clause
	for _, part := range strings.Split(raw, " AND ") {
		part = strings.TrimSpace(part)
		cl := clause{}
		lhs, rhs, found := strings.Cut(part, "=")
		upper := strings.ToUpper(part)
		if inIdx := strings.Index(upper, " IN "); inIdx != -1 {
			lhs = part[:inIdx]
			list := strings.TrimSpace(part[inIdx+len(" IN "):])
			list = strings.TrimPrefix(list, "(")
			list = strings.TrimSuffix(list, ")")
			for _, ph := range strings.Split(list, ",") {
				idx, err := placeholderIndex(strings.TrimSpace(ph))
				if err != nil {
					return nil, err
				}
				cl.valArgs = append(cl.valArgs, idx)
			}
		} else if found {
			idx, err := placeholderIndex(strings.TrimSpace(rhs))
			if err != nil {
				return nil, err
			}
			cl.valArgs = []int{idx}
		} else {
			return nil, fmt.Errorf("cannot parse predicate: %s", part)
		}
		lhs = strings.TrimSpace(lhs)
		if key, ok := strings.CutPrefix(lhs, "payload->>"); ok {
			cl.jsonKey = true
			idx, err := placeholderIndex(strings.TrimSpace(key))
			if err != nil {
				return nil, err
			}
			cl.keyArg = idx
		} else {
			cl.column = strings.ToLower(lhs)
		}
		out = append(out, cl)
	}
	return out, nil
}

func placeholderIndex(token string) (int, error) {
	if !strings.HasPrefix(token, "$") {
		return 0, fmt.Errorf("expected placeholder, got %q", token)
	}
	n, err := strconv.Atoi(token[1:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad placeholder %q", token)
	}
	return n, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
