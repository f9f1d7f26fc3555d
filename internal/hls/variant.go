package hls

// SelectVariant picks the variant with the highest advertised bandwidth. Ties
// go to the variant listed first. The second return value is false when there
// is nothing to select.
func SelectVariant(variants []Variant) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}
