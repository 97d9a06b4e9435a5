package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductCatalogRegistry(t *testing.T) {
	reg, err := NewProductCatalogRegistry()
	require.NoError(t, err)

	products, err := reg.Entity(ProductsTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, products.PrimaryKeyColumns())

	rel, ok := products.Relation(TranslationsRelation)
	require.True(t, ok)
	assert.Equal(t, ProductsTable, rel.Owner)
	assert.Equal(t, TranslationsTable, rel.Target)

	target, err := reg.RelationTarget(rel)
	require.NoError(t, err)
	assert.True(t, target.HasColumn("tag"))

	assert.Len(t, reg.Entities(), 3)
}

func TestNewRegistry_Rejects(t *testing.T) {
	parent := func() Entity {
		return Entity{
			Name:    "orders",
			Columns: []Column{{Name: "id", Type: TypeInt, IsPrimaryKey: true}},
		}
	}
	child := Entity{
		Name: "order_items",
		Columns: []Column{
			{Name: "id", Type: TypeInt, IsPrimaryKey: true},
			{Name: "order_id", Type: TypeInt},
		},
	}

	t.Run("missing primary key", func(t *testing.T) {
		_, err := NewRegistry(Entity{Name: "bare", Columns: []Column{{Name: "x"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no primary key")
	})

	t.Run("duplicate entity", func(t *testing.T) {
		_, err := NewRegistry(parent(), parent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate entity")
	})

	t.Run("unknown relation target", func(t *testing.T) {
		p := parent()
		p.Relations = []Relation{{Name: "items", Target: "nope", OwnerColumns: []string{"id"}, ForeignKeyColumns: []string{"order_id"}}}
		_, err := NewRegistry(p)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownEntity))
	})

	t.Run("missing foreign key column", func(t *testing.T) {
		p := parent()
		p.Relations = []Relation{{Name: "items", Target: "order_items", OwnerColumns: []string{"id"}, ForeignKeyColumns: []string{"missing"}}}
		_, err := NewRegistry(p, child)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing foreign key column")
	})

	t.Run("width mismatch", func(t *testing.T) {
		p := parent()
		p.Relations = []Relation{{Name: "items", Target: "order_items", OwnerColumns: []string{"id", "id"}, ForeignKeyColumns: []string{"order_id"}}}
		_, err := NewRegistry(p, child)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "width mismatch")
	})
}

func TestNewRegistry_NonUniqueOwnerColumns(t *testing.T) {
	reg, err := NewRegistry(
		Entity{
			Name:    "groups",
			Columns: []Column{{Name: "id", Type: TypeInt, IsPrimaryKey: true}, {Name: "cat", Type: TypeInt}},
			Relations: []Relation{{
				Target:            "items",
				OwnerColumns:      []string{"cat"},
				ForeignKeyColumns: []string{"cat"},
			}},
		},
		Entity{
			Name:    "items",
			Columns: []Column{{Name: "id", Type: TypeInt, IsPrimaryKey: true}, {Name: "cat", Type: TypeInt}},
		},
	)
	require.NoError(t, err)
	groups, err := reg.Entity("groups")
	require.NoError(t, err)
	rel, ok := groups.Relation("items")
	require.True(t, ok)
	assert.Equal(t, []string{"cat"}, rel.OwnerColumns)
}

func TestNewRegistry_DefaultRelationName(t *testing.T) {
	orders := Entity{
		Name:    "orders",
		Columns: []Column{{Name: "id", Type: TypeInt, IsPrimaryKey: true}},
		Relations: []Relation{
			{Target: "order_items", OwnerColumns: []string{"id"}, ForeignKeyColumns: []string{"order_id"}},
		},
	}
	items := Entity{
		Name: "order_items",
		Columns: []Column{
			{Name: "id", Type: TypeInt, IsPrimaryKey: true},
			{Name: "order_id", Type: TypeInt},
		},
	}

	reg, err := NewRegistry(orders, items)
	require.NoError(t, err)
	entity, err := reg.Entity("orders")
	require.NoError(t, err)
	rel, ok := entity.Relation("items")
	require.True(t, ok)
	assert.Equal(t, "orders", rel.Owner)
}

func TestRegistryDoesNotAliasInput(t *testing.T) {
	catalog := ProductCatalog()
	reg, err := NewRegistry(catalog...)
	require.NoError(t, err)

	catalog[0].Relations[0].ForeignKeyColumns[0] = "mutated"
	products, err := reg.Entity(ProductsTable)
	require.NoError(t, err)
	rel, _ := products.Relation(TranslationsRelation)
	assert.Equal(t, []string{"product_id"}, rel.ForeignKeyColumns)
}

func TestEnsureSchemaSQL(t *testing.T) {
	reg, err := NewProductCatalogRegistry()
	require.NoError(t, err)

	t.Run("sqlite", func(t *testing.T) {
		stmts, err := reg.EnsureSchemaSQL(DialectSQLite)
		require.NoError(t, err)
		require.Len(t, stmts, 5)
		assert.Equal(t, "CREATE TABLE IF NOT EXISTS `products` (`id` INTEGER NOT NULL, `name` TEXT NOT NULL, PRIMARY KEY (`id`))", stmts[0])
		assert.Contains(t, stmts[1], "FOREIGN KEY (`product_id`) REFERENCES `products` (`id`)")
		assert.Contains(t, stmts[2], "`meta_value` TEXT,")
		assert.True(t, strings.HasPrefix(stmts[3], "CREATE INDEX IF NOT EXISTS `idx_product_translations_product_id`"))
	})

	t.Run("mysql", func(t *testing.T) {
		stmts, err := reg.EnsureSchemaSQL(DialectMySQL)
		require.NoError(t, err)
		require.Len(t, stmts, 3)
		assert.Contains(t, stmts[0], "`id` BIGINT NOT NULL")
		assert.Contains(t, stmts[1], "`title` VARCHAR(255) NOT NULL")
	})

	t.Run("unknown dialect", func(t *testing.T) {
		_, err := reg.EnsureSchemaSQL(Dialect("oracle"))
		require.Error(t, err)
	})
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("SQLite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	d, err = ParseDialect("tidb")
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, d)

	_, err = ParseDialect("postgres")
	require.Error(t, err)
}
