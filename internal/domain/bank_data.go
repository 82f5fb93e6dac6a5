// internal/domain/bank_data.go
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// BankCode maps a bank to the identifier a provider expects for payouts.
type BankCode struct {
	Name      string
	ShortName string
	Code      string // provider bank code or paybill number
}

// bankCodes is keyed by provider, then by normalised alias. Every accepted
// spelling is listed; names outside the table are never guessed.
var bankCodes = map[Provider]map[string]BankCode{
	ProviderChapa: aliases(
		bankAliases{BankCode{Name: "Commercial Bank of Ethiopia", ShortName: "cbe", Code: "946"}, []string{"cbe"}},
		bankAliases{BankCode{Name: "Awash Bank", ShortName: "awash", Code: "656"}, []string{"awash", "awash international bank"}},
		bankAliases{BankCode{Name: "Dashen Bank", ShortName: "dashen", Code: "880"}, []string{"dashen"}},
		bankAliases{BankCode{Name: "Bank of Abyssinia", ShortName: "boa", Code: "347"}, []string{"boa", "abyssinia"}},
		bankAliases{BankCode{Name: "Wegagen Bank", ShortName: "wegagen", Code: "472"}, []string{"wegagen"}},
		bankAliases{BankCode{Name: "Hibret Bank", ShortName: "hibret", Code: "534"}, []string{"hibret", "united bank"}},
		bankAliases{BankCode{Name: "Nib International Bank", ShortName: "nib", Code: "979"}, []string{"nib"}},
		bankAliases{BankCode{Name: "Cooperative Bank of Oromia", ShortName: "coop", Code: "893"}, []string{"coop", "coopbank", "cooperative bank of oromia"}},
		bankAliases{BankCode{Name: "Zemen Bank", ShortName: "zemen", Code: "571"}, []string{"zemen"}},
		bankAliases{BankCode{Name: "telebirr", ShortName: "telebirr", Code: "855"}, nil},
		bankAliases{BankCode{Name: "M-Pesa Ethiopia", ShortName: "mpesa", Code: "266"}, []string{"mpesa", "m-pesa"}},
	),
	ProviderMpesa: aliases(
		bankAliases{BankCode{Name: "Equity Bank", ShortName: "equity", Code: "247247"}, []string{"equity"}},
		bankAliases{BankCode{Name: "KCB Bank", ShortName: "kcb", Code: "522522"}, []string{"kcb", "kenya commercial bank"}},
		bankAliases{BankCode{Name: "Co-operative Bank", ShortName: "coop", Code: "400200"}, []string{"coop", "cooperative", "co-operative bank of kenya", "cooperative bank of kenya"}},
		bankAliases{BankCode{Name: "Absa Bank Kenya", ShortName: "absa", Code: "303030"}, []string{"absa"}},
		bankAliases{BankCode{Name: "NCBA Bank", ShortName: "ncba", Code: "880100"}, []string{"ncba"}},
		bankAliases{BankCode{Name: "Stanbic Bank", ShortName: "stanbic", Code: "600100"}, []string{"stanbic"}},
		bankAliases{BankCode{Name: "Diamond Trust Bank", ShortName: "dtb", Code: "516600"}, []string{"dtb"}},
		bankAliases{BankCode{Name: "Family Bank", ShortName: "family", Code: "222111"}, []string{"family"}},
		bankAliases{BankCode{Name: "I&M Bank", ShortName: "im", Code: "542542"}, []string{"i&m"}},
		bankAliases{BankCode{Name: "Standard Chartered Bank", ShortName: "stanchart", Code: "329329"}, []string{"standard chartered", "stanchart"}},
	),
}

type bankAliases struct {
	bank    BankCode
	aliases []string
}

// aliases indexes each bank by its full name and its listed aliases.
func aliases(entries ...bankAliases) map[string]BankCode {
	table := make(map[string]BankCode)
	for _, e := range entries {
		table[normalizeBankName(e.bank.Name)] = e.bank
		for _, a := range e.aliases {
			table[normalizeBankName(a)] = e.bank
		}
	}
	return table
}

// normalizeBankName case-folds and collapses whitespace.
func normalizeBankName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// mobileWalletCodes is the provider code used when a mobile money payout is
// routed through the provider's transfer API.
var mobileWalletCodes = map[Provider]string{
	ProviderChapa: "855",
}

// LookupBankCode resolves a bank name to the provider's code. Only a full
// name or a listed alias matches.
func LookupBankCode(provider Provider, bankName string) (*BankCode, error) {
	table, ok := bankCodes[provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s has no bank table", ErrBankNotMapped, provider)
	}

	key := normalizeBankName(bankName)
	if key == "" {
		return nil, fmt.Errorf("%w: empty bank name", ErrBankNotMapped)
	}
	if bank, exists := table[key]; exists {
		return &bank, nil
	}

	return nil, fmt.Errorf("%w: %s via %s", ErrBankNotMapped, bankName, provider)
}

// MobileWalletCode returns the transfer code for mobile money via provider.
func MobileWalletCode(provider Provider) (string, bool) {
	code, ok := mobileWalletCodes[provider]
	return code, ok
}

// Banks lists the distinct banks a provider can pay out to.
func Banks(provider Provider) []BankCode {
	seen := make(map[string]bool)
	var banks []BankCode
	for _, bank := range bankCodes[provider] {
		if !seen[bank.Code] {
			banks = append(banks, bank)
			seen[bank.Code] = true
		}
	}
	sort.Slice(banks, func(i, j int) bool { return banks[i].Name < banks[j].Name })
	return banks
}
