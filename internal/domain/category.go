package domain

// Category is the classification of an intercepted request. It selects the cache strategy.
type Category string

const (
	CategoryNavigation  Category = "navigation"
	CategoryPassthrough Category = "passthrough"
	CategoryMapTile     Category = "map-tile"
	CategoryAPI         Category = "api"
	CategoryUserDataAPI Category = "user-data-api"
	CategoryImage       Category = "image"
	CategoryStaticAsset Category = "static-asset"
	CategoryOther       Category = "other"
)
