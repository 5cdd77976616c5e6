package config

import (
	"fmt"
	"strings"
)

// CalculationType selects how collateral reacts to the simulated netting set value.
type CalculationType int

const (
	// CalcLag settles margin calls one margin period of risk after they are made.
	CalcLag CalculationType = iota
	// CalcNoLag settles margin calls immediately and measures exposure on close-out values.
	CalcNoLag
)

func (c CalculationType) String() string {
	switch c {
	case CalcLag:
		return "Lag"
	case CalcNoLag:
		return "NoLag"
	default:
		return fmt.Sprintf("CalculationType(%d)", int(c))
	}
}

// ParseCalculationType accepts "Lag" (alias "Symmetric") and "NoLag".
func ParseCalculationType(s string) (CalculationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lag", "symmetric":
		return CalcLag, nil
	case "nolag":
		return CalcNoLag, nil
	default:
		return 0, fmt.Errorf("unknown calculation type %q", s)
	}
}

func (c CalculationType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CalculationType) UnmarshalText(b []byte) error {
	v, err := ParseCalculationType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MporCashFlowMode decides which cash flows paid inside the margin period of
// risk are added to the collateralised exposure.
type MporCashFlowMode int

const (
	// MporNonePay: neither party pays during the MPoR, both flows stay in exposure.
	MporNonePay MporCashFlowMode = iota
	// MporBothPay: both parties pay, no flow is added.
	MporBothPay
	// MporWePay: only the counterparty's (positive) flows are added.
	MporWePay
	// MporTheyPay: only our (negative) flows are added.
	MporTheyPay
)

func (m MporCashFlowMode) String() string {
	switch m {
	case MporNonePay:
		return "NonePay"
	case MporBothPay:
		return "BothPay"
	case MporWePay:
		return "WePay"
	case MporTheyPay:
		return "TheyPay"
	default:
		return fmt.Sprintf("MporCashFlowMode(%d)", int(m))
	}
}

// ParseMporCashFlowMode accepts NonePay, BothPay, WePay and TheyPay (case-insensitive).
func ParseMporCashFlowMode(s string) (MporCashFlowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nonepay":
		return MporNonePay, nil
	case "bothpay":
		return MporBothPay, nil
	case "wepay":
		return MporWePay, nil
	case "theypay":
		return MporTheyPay, nil
	default:
		return 0, fmt.Errorf("unknown mpor cash flow mode %q", s)
	}
}

func (m MporCashFlowMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MporCashFlowMode) UnmarshalText(b []byte) error {
	v, err := ParseMporCashFlowMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
