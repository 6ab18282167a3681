package matching

import "math"

// solveAssignment returns, for every row of cost, the column assigned to it
// by a minimum-total-cost one-to-one assignment, or -1 when the matrix has
// more rows than columns and the row is left out. All rows must have the
// same length.
func solveAssignment(cost [][]float64) []int {
	n := len(cost)
	if n == 0 || len(cost[0]) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = -1
		}
		return out
	}
	m := len(cost[0])

	if n > m {
		t := make([][]float64, m)
		for j := range t {
			t[j] = make([]float64, n)
			for i := 0; i < n; i++ {
				t[j][i] = cost[i][j]
			}
		}
		colToRow := hungarian(t)
		out := make([]int, n)
		for i := range out {
			out[i] = -1
		}
		for col, row := range colToRow {
			if row >= 0 {
				out[row] = col
			}
		}
		return out
	}
	return hungarian(cost)
}

// hungarian solves the rectangular case rows <= cols using the potentials
// method, O(rows^2 * cols).
func hungarian(a [][]float64) []int {
	n, m := len(a), len(a[0])
	inf := math.Inf(1)

	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1) // p[j]: row (1-based) matched to column j
	way := make([]int, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, m+1)
		used := make([]bool, m+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			out[p[j]-1] = j - 1
		}
	}
	return out
}
