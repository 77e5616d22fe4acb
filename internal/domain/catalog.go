package domain

// BrandCollectionSlug: slug корневой коллекции, дочерние коллекции которой считаются брендами.
const BrandCollectionSlug = "brand"

// Collection: коллекция каталога (категория или бренд).
type Collection struct {
	ID     string
	Slug   string
	Name   string
	IsRoot bool
	// Parent заполняется, только если родитель не является корнем каталога.
	Parent *Collection
}

// FindBrandCollection ищет среди коллекций товара бренд:
// коллекцию, родитель которой: коллекция со slug "brand".
func FindBrandCollection(collections []Collection) *Collection {
	for i := range collections {
		c := collections[i]
		if c.Slug != BrandCollectionSlug && c.Parent != nil && c.Parent.Slug == BrandCollectionSlug {
			return &c
		}
	}
	return nil
}
