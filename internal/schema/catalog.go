package schema

// Table names used by the product catalog dataset.
const (
	ProductsTable     = "products"
	TranslationsTable = "product_translations"
	MetadataTable     = "product_metadata"
)

// Relation names on the products entity.
const (
	TranslationsRelation = "translations"
	MetadataRelation     = "metadata"
)

// ProductCatalog declares products with two one-to-many collections:
// translations tagged by language (A, B or C) and free-form metadata.
func ProductCatalog() []Entity {
	return []Entity{
		{
			Name: ProductsTable,
			Columns: []Column{
				{Name: "id", Type: TypeInt, IsPrimaryKey: true},
				{Name: "name", Type: TypeText},
			},
			Relations: []Relation{
				{
					Name:              TranslationsRelation,
					Target:            TranslationsTable,
					OwnerColumns:      []string{"id"},
					ForeignKeyColumns: []string{"product_id"},
				},
				{
					Name:              MetadataRelation,
					Target:            MetadataTable,
					OwnerColumns:      []string{"id"},
					ForeignKeyColumns: []string{"product_id"},
				},
			},
		},
		{
			Name: TranslationsTable,
			Columns: []Column{
				{Name: "id", Type: TypeInt, IsPrimaryKey: true},
				{Name: "product_id", Type: TypeInt},
				{Name: "tag", Type: TypeText},
				{Name: "title", Type: TypeText},
			},
		},
		{
			Name: MetadataTable,
			Columns: []Column{
				{Name: "id", Type: TypeInt, IsPrimaryKey: true},
				{Name: "product_id", Type: TypeInt},
				{Name: "meta_key", Type: TypeText},
				{Name: "meta_value", Type: TypeText, IsNullable: true},
			},
		},
	}
}

// NewProductCatalogRegistry builds the registry for ProductCatalog.
func NewProductCatalogRegistry() (*Registry, error) {
	return NewRegistry(ProductCatalog()...)
}
