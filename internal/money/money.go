// Package money concentra a aritmética de unidades mínimas (int64) usada por
// cotação e liquidação. Produtos intermediários são feitos em big.Int.
package money

import (
	"errors"
	"math"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// BpsDenominator é 100% em basis points
const BpsDenominator int64 = 10_000

// ErrOverflow indica um resultado fora do intervalo de int64
var ErrOverflow = errors.New("money: value out of int64 range")

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding
	RoundDown
)

var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int { return intPool.Get().(*big.Int) }

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv calcula a*b/denom sem overflow. Espera a, b >= 0 e denom > 0.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	if denom <= 0 {
		panic("money: non-positive denominator")
	}
	num := getInt()
	d := getInt()
	q := getInt()
	r := getInt()
	defer func() {
		putInt(num)
		putInt(d)
		putInt(q)
		putInt(r)
	}()

	num.Mul(big.NewInt(a), big.NewInt(b))
	d.SetInt64(denom)
	q.QuoRem(num, d, r)
	result := q.Int64()

	if mode == RoundHalfEven && r.Sign() != 0 {
		// compara 2*resto com o denominador para funcionar com denominador ímpar
		r.Lsh(r, 1)
		switch r.Cmp(d) {
		case 1:
			result++
		case 0:
			if result%2 != 0 {
				result++
			}
		}
	}
	return result
}

// ApplyBps devolve amount*bps/10000 com o modo de arredondamento pedido
func ApplyBps(amount, bps int64, mode RoundingMode) int64 {
	return MulDiv(amount, bps, BpsDenominator, mode)
}

// ValidBps indica se bps está em [0, 10000]
func ValidBps(bps int64) bool {
	return bps >= 0 && bps <= BpsDenominator
}

// MulOdds devolve amount*odds arredondado para unidade mínima (banker's).
// Falha com ErrOverflow quando o produto não cabe em int64.
func MulOdds(amount int64, odds decimal.Decimal) (int64, error) {
	v := decimal.NewFromInt(amount).Mul(odds).RoundBank(0)
	if v.GreaterThan(maxInt64) || v.LessThan(minInt64) {
		return 0, ErrOverflow
	}
	return v.IntPart(), nil
}
