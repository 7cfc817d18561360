package domain

// Names is an ordered list of unique layer/attribute/template names.
// Order is significant: it reflects the configured order, which is
// what filtered documents must preserve.
type Names []string

func contains(items []string, value string) bool {
	for _, i := range items {
		if i == value {
			return true
		}
	}
	return false
}

func (n Names) Has(name string) bool {
	return contains(n, name)
}

// Union appends items of other not already present, keeping order of n first.
func (n Names) Union(other Names) Names {
	res := n.Clone()
	for _, item := range other {
		if !contains(res, item) {
			res = append(res, item)
		}
	}
	return res
}

// Intersection keeps items of n that are also in other, in n's order.
func (n Names) Intersection(other Names) Names {
	res := Names{}
	for _, item := range n {
		if contains(other, item) {
			res = append(res, item)
		}
	}
	return res
}

func (n Names) Clone() Names {
	res := make(Names, len(n))
	copy(res, n)
	return res
}

func (n Names) Filter(test func(item string) bool) Names {
	res := make(Names, 0)
	for _, v := range n {
		if test(v) {
			res = append(res, v)
		}
	}
	return res
}
