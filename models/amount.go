package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/holiman/uint256"
)

// TokenDecimals is the number of decimals of the settlement token (mUSDC).
const TokenDecimals = 18

// Amount is an unsigned token quantity in the token's smallest unit.
// Stored as a decimal string so no database ever rounds it.
type Amount uint256.Int

func NewAmount(v uint64) Amount {
	return Amount(*uint256.NewInt(v))
}

// Tokens returns n whole tokens expressed in the smallest unit (n * 10^18).
func Tokens(n uint64) Amount {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(TokenDecimals))
	return Amount(*new(uint256.Int).Mul(uint256.NewInt(n), unit))
}

func ParseAmount(s string) (Amount, error) {
	var v uint256.Int
	if err := v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount(v), nil
}

func (a Amount) u() *uint256.Int {
	v := uint256.Int(a)
	return &v
}

func (a Amount) IsZero() bool { return a.u().IsZero() }

func (a Amount) Cmp(b Amount) int { return a.u().Cmp(b.u()) }

// Add returns a+b and false when the sum overflows 256 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	sum, overflow := new(uint256.Int).AddOverflow(a.u(), b.u())
	return Amount(*sum), !overflow
}

// Sub returns a-b and false when b > a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(a.u(), b.u())
	return Amount(*diff), !underflow
}

func (a Amount) String() string { return a.u().Dec() }

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}

// GormDataType keeps 256-bit values out of numeric affinity columns.
func (Amount) GormDataType() string {
	return "varchar(78)"
}
