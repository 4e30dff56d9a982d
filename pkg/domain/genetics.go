package domain

// Crossover combines two parents bit by bit: each child bit comes from a
// where the selector bit is 1 and from b where it is 0.
func Crossover(a, b, selector Genes) Genes {
	var child Genes
	for i := range child {
		child[i] = (a[i] & selector[i]) | (b[i] &^ selector[i])
	}
	return child
}
