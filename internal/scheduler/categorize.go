package scheduler

// Thresholds are the three ascending text-length boundaries between
// categories
type Thresholds struct {
	Short  int
	Medium int
	Long   int
}

// Categorize maps a text length to its category. A length equal to a
// threshold falls into the higher category.
func Categorize(textLen int, t Thresholds) Category {
	switch {
	case textLen < t.Short:
		return CategoryShort
	case textLen < t.Medium:
		return CategoryMedium
	case textLen < t.Long:
		return CategoryLong
	default:
		return CategoryExtraLong
	}
}
