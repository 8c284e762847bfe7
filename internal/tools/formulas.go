package tools

import (
	"errors"
	"math"
)

// SIPInput describes a monthly systematic investment plan.
type SIPInput struct {
	MonthlySIP       float64 `json:"monthly_sip" mapstructure:"monthly_sip"`
	AnnualReturnRate float64 `json:"annual_return_rate" mapstructure:"annual_return_rate"`
	Years            float64 `json:"years" mapstructure:"years"`
}

type SIPOutput struct {
	FutureValue   float64 `json:"future_value"`
	TotalInvested float64 `json:"total_invested"`
	Gains         float64 `json:"gains"`
}

// LoanInput describes an amortised loan.
type LoanInput struct {
	Principal  float64 `json:"principal" mapstructure:"principal"`
	AnnualRate float64 `json:"annual_rate" mapstructure:"annual_rate"`
	Years      float64 `json:"years" mapstructure:"years"`
}

type LoanOutput struct {
	MonthlyPayment float64 `json:"monthly_payment"`
	TotalAmount    float64 `json:"total_amount"`
	TotalInterest  float64 `json:"total_interest"`
}

func (in SIPInput) Validate() error {
	var errs []error
	if in.MonthlySIP < 0 {
		errs = append(errs, errors.New("monthly_sip cannot be negative"))
	}
	if in.AnnualReturnRate < 0 {
		errs = append(errs, errors.New("annual_return_rate cannot be negative"))
	}
	if in.Years <= 0 {
		errs = append(errs, errors.New("years must be positive"))
	}
	return errors.Join(errs...)
}

func (in LoanInput) Validate() error {
	var errs []error
	if in.Principal < 0 {
		errs = append(errs, errors.New("principal cannot be negative"))
	}
	if in.AnnualRate < 0 {
		errs = append(errs, errors.New("annual_rate cannot be negative"))
	}
	if in.Years <= 0 {
		errs = append(errs, errors.New("years must be positive"))
	}
	return errors.Join(errs...)
}

// SIP compounds monthly contributions at the monthly rate, contributions
// made at the end of each month.
func SIP(in SIPInput) (SIPOutput, error) {
	if err := in.Validate(); err != nil {
		return SIPOutput{}, err
	}

	months := in.Years * 12
	invested := in.MonthlySIP * months
	rate := in.AnnualReturnRate / 12 / 100
	if rate == 0 {
		return SIPOutput{FutureValue: round2(invested), TotalInvested: round2(invested)}, nil
	}

	fv := in.MonthlySIP * (math.Pow(1+rate, months) - 1) / rate
	return SIPOutput{
		FutureValue:   round2(fv),
		TotalInvested: round2(invested),
		Gains:         round2(fv - invested),
	}, nil
}

// Loan computes the equated monthly instalment and totals.
func Loan(in LoanInput) (LoanOutput, error) {
	if err := in.Validate(); err != nil {
		return LoanOutput{}, err
	}

	months := in.Years * 12
	rate := in.AnnualRate / 12 / 100
	if rate == 0 {
		return LoanOutput{
			MonthlyPayment: round2(in.Principal / months),
			TotalAmount:    round2(in.Principal),
		}, nil
	}

	growth := math.Pow(1+rate, months)
	emi := in.Principal * rate * growth / (growth - 1)
	total := emi * months
	return LoanOutput{
		MonthlyPayment: round2(emi),
		TotalAmount:    round2(total),
		TotalInterest:  round2(total - in.Principal),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
