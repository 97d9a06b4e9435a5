package planner

import (
	"fmt"
	"strings"
	"testing"

	"splitquery-repro/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewProductCatalogRegistry()
	require.NoError(t, err)
	return reg
}

// scenarioQuery mirrors the regression harness: filter on metadata, order
// by the title of the translation tagged orderTag, include both collections.
func scenarioQuery(reg *schema.Registry, orderTag string) *Builder {
	return NewQuery(reg, schema.ProductsTable).
		Include(schema.TranslationsRelation, schema.MetadataRelation).
		Where(Some(schema.MetadataRelation, Eq("meta_key", "kind"))).
		OrderBy(Lookup(schema.TranslationsRelation, "tag", orderTag, "title"))
}

func TestPlanSplitBase(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := scenarioQuery(reg, "C").Limit(5).Build()
	require.NoError(t, err)

	base, err := PlanSplitBase(plan)
	require.NoError(t, err)
	assert.Equal(t, "base", base.Name)
	assert.Nil(t, base.Relation)
	assert.Equal(t, []string{"id", "name"}, base.Columns)
	assertSQLMatches(t, base.SQL,
		"SELECT `products`.`id`, `products`.`name` FROM `products` "+
			"WHERE EXISTS (SELECT 1 FROM `product_metadata` AS `__product_metadata_1` "+
			"WHERE `__product_metadata_1`.`product_id` = `products`.`id` AND `__product_metadata_1`.`meta_key` = ?) "+
			"ORDER BY (SELECT `__product_translations_2`.`title` FROM `product_translations` AS `__product_translations_2` "+
			"WHERE `__product_translations_2`.`product_id` = `products`.`id` AND `__product_translations_2`.`tag` = ? "+
			"ORDER BY `__product_translations_2`.`id` LIMIT 1) ASC, `products`.`id` ASC "+
			"LIMIT ? OFFSET ?",
	)
	assertArgsEqual(t, base.Args, []interface{}{"kind", "C", 5, 0})
}

func TestPlanSplitBaseUnbounded(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := NewQuery(reg, schema.ProductsTable).Build()
	require.NoError(t, err)

	base, err := PlanSplitBase(plan)
	require.NoError(t, err)
	assertSQLMatches(t, base.SQL, "SELECT `products`.`id`, `products`.`name` FROM `products` ORDER BY `products`.`id` ASC")
	assert.Empty(t, base.Args)
}

func TestPlanSplitBaseOffsetWithoutLimit(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := NewQuery(reg, schema.ProductsTable).Offset(7).Build()
	require.NoError(t, err)

	base, err := PlanSplitBase(plan)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(normalizeSQL(base.SQL), "LIMIT ? OFFSET ?"))
	require.Len(t, base.Args, 2)
	assert.Equal(t, "9223372036854775807", fmt.Sprint(base.Args[0]))
	assert.Equal(t, "7", fmt.Sprint(base.Args[1]))
}

func TestPrimaryKeyTieBreakerNotDuplicated(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := NewQuery(reg, schema.ProductsTable).OrderBy(Column("id").Desc()).Build()
	require.NoError(t, err)

	base, err := PlanSplitBase(plan)
	require.NoError(t, err)
	assertSQLMatches(t, base.SQL, "SELECT `products`.`id`, `products`.`name` FROM `products` ORDER BY `products`.`id` DESC")
}

func TestPlanRelationBatch(t *testing.T) {
	reg := catalogRegistry(t)
	products, err := reg.Entity(schema.ProductsTable)
	require.NoError(t, err)
	rel, ok := products.Relation(schema.TranslationsRelation)
	require.True(t, ok)
	target, err := reg.RelationTarget(rel)
	require.NoError(t, err)

	planned, err := PlanRelationBatch(RelationBatch{
		Relation: rel,
		Target:   target,
		Keys:     []ParentTuple{{Values: []any{1}}, {Values: []any{2}}, {Values: []any{3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "include:translations", planned.Name)
	assert.Equal(t, rel, planned.Relation)
	assert.Equal(t, []string{BatchParentAlias}, planned.ParentAliases)
	assert.Equal(t, []string{"id", "product_id", "tag", "title", BatchParentAlias}, planned.Columns)
	assertSQLMatches(t, planned.SQL,
		"SELECT `product_translations`.`id`, `product_translations`.`product_id`, `product_translations`.`tag`, "+
			"`product_translations`.`title`, `product_translations`.`product_id` AS `__batch_parent_id` "+
			"FROM `product_translations` WHERE `product_translations`.`product_id` IN (?,?,?) "+
			"ORDER BY `product_translations`.`product_id`, `product_translations`.`id`",
	)
	assertArgsEqual(t, planned.Args, []interface{}{1, 2, 3})
	assert.NotContains(t, strings.ToUpper(planned.SQL), "LIMIT")
}

func TestPlanRelationBatchRequiresKeys(t *testing.T) {
	reg := catalogRegistry(t)
	products, err := reg.Entity(schema.ProductsTable)
	require.NoError(t, err)
	rel, _ := products.Relation(schema.MetadataRelation)
	target, err := reg.RelationTarget(rel)
	require.NoError(t, err)

	_, err = PlanRelationBatch(RelationBatch{Relation: rel, Target: target})
	require.ErrorIs(t, err, ErrNoParentKeys)
}

func TestBuildTupleInConditionComposite(t *testing.T) {
	cond, args, err := buildTupleInCondition(
		[]string{"`t`.`a`", "`t`.`b`"},
		[]ParentTuple{{Values: []any{1, "x"}}, {Values: []any{2, "y"}}},
	)
	require.NoError(t, err)
	assert.Equal(t, "((`t`.`a` = ? AND `t`.`b` = ?) OR (`t`.`a` = ? AND `t`.`b` = ?))", cond)
	assertArgsEqual(t, args, []interface{}{1, "x", 2, "y"})

	_, _, err = buildTupleInCondition([]string{"`t`.`a`", "`t`.`b`"}, []ParentTuple{{Values: []any{1}}})
	require.Error(t, err)
}

func TestRelationQueriesCarryNoWindow(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := scenarioQuery(reg, "C").Limit(2).Offset(4).Build()
	require.NoError(t, err)

	physical, err := Split(plan)
	require.NoError(t, err)
	assert.Equal(t, ModeSplit, physical.Mode)

	rows := []map[string]any{{"id": int64(10), "name": "p10"}, {"id": int64(11), "name": "p11"}}
	keys := physical.SnapshotKeys(rows)
	require.Len(t, keys[schema.TranslationsRelation], 2)

	queries, err := physical.RelationQueries(keys, 1000)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.NotContains(t, strings.ToUpper(q.SQL), "LIMIT", q.Name)
		assert.NotContains(t, strings.ToUpper(q.SQL), "OFFSET", q.Name)
		assertArgsEqual(t, q.Args, []interface{}{10, 11})
	}
	assert.Equal(t, "include:translations", queries[0].Name)
	assert.Equal(t, "include:metadata", queries[1].Name)
}

// A lookup that matches no child row must not change the relation queries.
func TestZeroMatchLookupDoesNotLeakIntoRelationQueries(t *testing.T) {
	reg := catalogRegistry(t)
	rows := []map[string]any{{"id": int64(1)}, {"id": int64(2)}, {"id": int64(3)}}

	relationSQL := func(plan *QueryPlan) []SQLQuery {
		physical, err := Split(plan)
		require.NoError(t, err)
		queries, err := physical.RelationQueries(physical.SnapshotKeys(rows), 1000)
		require.NoError(t, err)
		out := make([]SQLQuery, len(queries))
		for i, q := range queries {
			out[i] = q.SQLQuery
		}
		return out
	}

	zeroMatch, err := scenarioQuery(reg, "C").Limit(1).Build()
	require.NoError(t, err)
	matching, err := scenarioQuery(reg, "A").Limit(1).Build()
	require.NoError(t, err)
	unordered, err := NewQuery(reg, schema.ProductsTable).
		Include(schema.TranslationsRelation, schema.MetadataRelation).
		Limit(20).
		Build()
	require.NoError(t, err)

	expected := relationSQL(unordered)
	assert.Equal(t, expected, relationSQL(zeroMatch))
	assert.Equal(t, expected, relationSQL(matching))
}

func TestRelationQueriesChunking(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := NewQuery(reg, schema.ProductsTable).Include(schema.MetadataRelation).Build()
	require.NoError(t, err)
	physical, err := Split(plan)
	require.NoError(t, err)

	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"id": i + 1}
	}
	queries, err := physical.RelationQueries(physical.SnapshotKeys(rows), 2)
	require.NoError(t, err)
	require.Len(t, queries, 3)
	assert.Equal(t, "include:metadata#0", queries[0].Name)
	assert.Equal(t, "include:metadata#2", queries[2].Name)
	assertArgsEqual(t, queries[0].Args, []interface{}{1, 2})
	assertArgsEqual(t, queries[1].Args, []interface{}{3, 4})
	assertArgsEqual(t, queries[2].Args, []interface{}{5})
}

func TestRelationQueriesSkipEmptyKeySets(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := scenarioQuery(reg, "C").Limit(0).Build()
	require.NoError(t, err)
	physical, err := Split(plan)
	require.NoError(t, err)

	queries, err := physical.RelationQueries(physical.SnapshotKeys(nil), 1000)
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestPlanJoined(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := scenarioQuery(reg, "C").Limit(3).Mode(ModeJoined).Build()
	require.NoError(t, err)

	physical, err := Split(plan)
	require.NoError(t, err)
	assert.Equal(t, ModeJoined, physical.Mode)
	joined := physical.Base
	assert.Equal(t, "joined", joined.Name)

	sql := normalizeSQL(joined.SQL)
	assert.Contains(t, sql, "ROW_NUMBER() OVER (ORDER BY (SELECT `__product_translations_1`.`title` FROM `product_translations` AS `__product_translations_1`")
	assert.Contains(t, sql, "ORDER BY `__product_translations_1`.`id` LIMIT 1) ASC, `products`.`id` ASC) AS `__rn`")
	assert.Contains(t, sql, "WHERE EXISTS (SELECT 1 FROM `product_metadata` AS `__product_metadata_2`")
	assert.Contains(t, sql, ") AS `__base` LEFT JOIN `product_translations` AS `__r0` ON `__r0`.`product_id` = `__base`.`id`")
	assert.Contains(t, sql, "LEFT JOIN `product_metadata` AS `__r1` ON `__r1`.`product_id` = `__base`.`id`")
	assert.True(t, strings.HasSuffix(sql, "WHERE `__base`.`__rn` <= ? ORDER BY `__base`.`__rn`, `__r0`.`id`, `__r1`.`id`"), sql)
	assertArgsEqual(t, joined.Args, []interface{}{"C", "kind", 3})

	assert.Equal(t, []string{
		"__base__id", "__base__name",
		"__r0__id", "__r0__product_id", "__r0__tag", "__r0__title",
		"__r1__id", "__r1__product_id", "__r1__meta_key", "__r1__meta_value",
	}, joined.Columns)

	queries, err := physical.RelationQueries(KeySnapshot{}, 1000)
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestPlanJoinedWindowBounds(t *testing.T) {
	reg := catalogRegistry(t)

	plan, err := NewQuery(reg, schema.ProductsTable).Offset(4).Limit(2).Mode(ModeJoined).Build()
	require.NoError(t, err)
	joined, err := PlanJoined(plan)
	require.NoError(t, err)
	assert.Contains(t, normalizeSQL(joined.SQL), "WHERE `__base`.`__rn` > ? AND `__base`.`__rn` <= ?")
	assertArgsEqual(t, joined.Args, []interface{}{4, 6})

	plan, err = NewQuery(reg, schema.ProductsTable).Mode(ModeJoined).Build()
	require.NoError(t, err)
	joined, err = PlanJoined(plan)
	require.NoError(t, err)
	assert.NotContains(t, joined.SQL, "WHERE")
	assert.Empty(t, joined.Args)
}

func TestPredicateSQL(t *testing.T) {
	reg := catalogRegistry(t)
	entity, err := reg.Entity(schema.ProductsTable)
	require.NoError(t, err)

	tests := []struct {
		name string
		pred Predicate
		sql  string
		args []interface{}
	}{
		{"eq", Eq("name", "a"), "`products`.`name` = ?", []interface{}{"a"}},
		{"not eq", NotEq("name", "a"), "`products`.`name` <> ?", []interface{}{"a"}},
		{"in", In("id", 1, 2), "`products`.`id` IN (?,?)", []interface{}{1, 2}},
		{"empty in", In("id"), "(1=0)", nil},
		{"is null", IsNull("name"), "`products`.`name` IS NULL", nil},
		{"not null", NotNull("name"), "`products`.`name` IS NOT NULL", nil},
		{"and", And(Eq("id", 1), Eq("name", "a")), "(`products`.`id` = ? AND `products`.`name` = ?)", []interface{}{1, "a"}},
		{"or", Or(Eq("id", 1), Eq("id", 2)), "(`products`.`id` = ? OR `products`.`id` = ?)", []interface{}{1, 2}},
		{
			"none",
			None(schema.TranslationsRelation, Eq("tag", "C")),
			"NOT EXISTS (SELECT 1 FROM `product_translations` AS `__product_translations_1` " +
				"WHERE `__product_translations_1`.`product_id` = `products`.`id` AND `__product_translations_1`.`tag` = ?)",
			[]interface{}{"C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := tt.pred.compile(newCompileScope(reg, entity, entity.Name))
			require.NoError(t, err)
			sql, args, err := cond.ToSql()
			require.NoError(t, err)
			assertSQLMatches(t, sql, tt.sql)
			assertArgsEqual(t, args, tt.args)
		})
	}
}

func TestBuildRejectsInvalidPlans(t *testing.T) {
	reg := catalogRegistry(t)

	tests := []struct {
		name    string
		builder *Builder
	}{
		{"unknown entity", NewQuery(reg, "widgets")},
		{"unknown include", NewQuery(reg, schema.ProductsTable).Include("reviews")},
		{"duplicate include", NewQuery(reg, schema.ProductsTable).Include(schema.TranslationsRelation, schema.TranslationsRelation)},
		{"unknown filter column", NewQuery(reg, schema.ProductsTable).Where(Eq("price", 1))},
		{"unknown nested filter column", NewQuery(reg, schema.ProductsTable).Where(Some(schema.MetadataRelation, Eq("nope", 1)))},
		{"filter through unknown relation", NewQuery(reg, schema.ProductsTable).Where(Some("reviews"))},
		{"nil eq value", NewQuery(reg, schema.ProductsTable).Where(Eq("name", nil))},
		{"empty and", NewQuery(reg, schema.ProductsTable).Where(And())},
		{"unknown order column", NewQuery(reg, schema.ProductsTable).OrderBy(Column("price"))},
		{"lookup through undeclared relation", NewQuery(reg, schema.ProductsTable).OrderBy(Lookup("reviews", "tag", "C", "title"))},
		{"lookup not correlated to base", NewQuery(reg, schema.TranslationsTable).OrderBy(Lookup(schema.MetadataRelation, "meta_key", "kind", "meta_value"))},
		{"lookup unknown match column", NewQuery(reg, schema.ProductsTable).OrderBy(Lookup(schema.TranslationsRelation, "lang", "C", "title"))},
		{"lookup unknown value column", NewQuery(reg, schema.ProductsTable).OrderBy(Lookup(schema.TranslationsRelation, "tag", "C", "body"))},
		{"negative limit", NewQuery(reg, schema.ProductsTable).Limit(-1)},
		{"negative offset", NewQuery(reg, schema.ProductsTable).Offset(-2)},
		{"unknown mode", NewQuery(reg, schema.ProductsTable).Mode(Mode(9))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := tt.builder.Build()
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			var invalid *InvalidPlanError
			require.ErrorAs(t, err, &invalid)
			assert.NotEmpty(t, invalid.Reason)
		})
	}
}

func TestQueryPlanIsImmutable(t *testing.T) {
	reg := catalogRegistry(t)
	builder := scenarioQuery(reg, "C").Limit(5)
	plan, err := builder.Build()
	require.NoError(t, err)

	builder.Include("x").Limit(99).OrderBy(Column("name"))
	limit, limited := plan.Limit()
	assert.Equal(t, 5, limit)
	assert.True(t, limited)
	assert.Len(t, plan.Includes(), 2)
	assert.Len(t, plan.OrderTerms(), 1)

	includes := plan.Includes()
	includes[0] = nil
	assert.NotNil(t, plan.Includes()[0])

	joined, err := plan.WithMode(ModeJoined)
	require.NoError(t, err)
	assert.Equal(t, ModeJoined, joined.Mode())
	assert.Equal(t, ModeSplit, plan.Mode())

	_, err = plan.WithMode(Mode(7))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestRepeatedWhereIsConjunction(t *testing.T) {
	reg := catalogRegistry(t)
	plan, err := NewQuery(reg, schema.ProductsTable).
		Where(Eq("id", 1)).
		Where(Eq("name", "a")).
		Build()
	require.NoError(t, err)

	base, err := PlanSplitBase(plan)
	require.NoError(t, err)
	assert.Contains(t, base.SQL, "WHERE (`products`.`id` = ? AND `products`.`name` = ?)")
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("split")
	require.NoError(t, err)
	assert.Equal(t, ModeSplit, mode)

	mode, err = ParseMode(" Joined ")
	require.NoError(t, err)
	assert.Equal(t, ModeJoined, mode)

	_, err = ParseMode("parallel")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestUniqueParentTuplesAndKeys(t *testing.T) {
	rows := []map[string]any{
		{"id": int64(2)},
		{"id": []byte("2")},
		{"id": nil},
		{"id": int64(1)},
	}
	tuples := UniqueParentTuples(rows, []string{"id"})
	require.Len(t, tuples, 2)
	assert.Equal(t, "2", tuples[0].Key())
	assert.Equal(t, "1", tuples[1].Key())
	assert.Equal(t, TupleKey([]any{"a", 1}), TupleKey([]any{[]byte("a"), int64(1)}))
	assert.Nil(t, ChunkParentTuples(nil, 10))
	assert.Len(t, ChunkParentTuples(tuples, 0), 1)
}

func assertSQLMatches(t *testing.T, got string, candidates ...string) {
	t.Helper()

	gotNorm := normalizeSQL(got)
	for _, candidate := range candidates {
		if gotNorm == normalizeSQL(candidate) {
			return
		}
	}

	assert.Fail(t, "SQL did not match any expected form", "got: %q candidates: %v", gotNorm, candidates)
}

func assertArgsEqual(t *testing.T, got []interface{}, expected []interface{}) {
	t.Helper()

	if len(got) != len(expected) {
		assert.Equal(t, len(expected), len(got))
		return
	}

	gotNorm := normalizeArgs(got)
	expectedNorm := normalizeArgs(expected)
	assert.Equal(t, expectedNorm, gotNorm)
}

// Normalize args to strings so numeric types compare consistently.
func normalizeArgs(args []interface{}) []string {
	normalized := make([]string, len(args))
	for i, arg := range args {
		normalized[i] = fmt.Sprint(arg)
	}
	return normalized
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
