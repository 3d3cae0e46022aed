package qr

import (
	"fmt"
	"strconv"
	"strings"
)

// EMVCo merchant-presented QR tags used for NAPAS bank transfers.
const (
	tagFormat        = "00"
	tagInitiation    = "01"
	tagMerchantInfo  = "38"
	tagCurrency      = "53"
	tagAmount        = "54"
	tagCountry       = "58"
	tagAdditional    = "62"
	tagCRC           = "63"
	subGUID          = "00"
	subBeneficiary   = "01"
	subService       = "02"
	subAcquirer      = "00"
	subConsumer      = "01"
	subPurpose       = "08"
	napasGUID        = "A000000727"
	serviceToAccount = "QRIBFTTA"
	currencyVND      = "704"
	countryVN        = "VN"
	initiationStatic = "11"
	initiationDyn    = "12"
)

func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

// BuildPayload encodes a bank-transfer payload for account at bin. Amount 0
// produces a static code the payer fills in.
func BuildPayload(bin, account string, amount int64, purpose string) (string, error) {
	if bin == "" || account == "" {
		return "", fmt.Errorf("bin and account are required")
	}
	if len(purpose) > 25 {
		purpose = purpose[:25]
	}

	beneficiary := tlv(subAcquirer, bin) + tlv(subConsumer, account)
	merchant := tlv(subGUID, napasGUID) + tlv(subBeneficiary, beneficiary) + tlv(subService, serviceToAccount)
	if len(merchant) > 99 {
		return "", fmt.Errorf("merchant account information too long")
	}

	var sb strings.Builder
	sb.WriteString(tlv(tagFormat, "01"))
	if amount > 0 {
		sb.WriteString(tlv(tagInitiation, initiationDyn))
	} else {
		sb.WriteString(tlv(tagInitiation, initiationStatic))
	}
	sb.WriteString(tlv(tagMerchantInfo, merchant))
	sb.WriteString(tlv(tagCurrency, currencyVND))
	if amount > 0 {
		sb.WriteString(tlv(tagAmount, strconv.FormatInt(amount, 10)))
	}
	sb.WriteString(tlv(tagCountry, countryVN))
	if purpose != "" {
		sb.WriteString(tlv(tagAdditional, tlv(subPurpose, purpose)))
	}
	sb.WriteString(tagCRC + "04")
	sb.WriteString(fmt.Sprintf("%04X", crc16(sb.String())))
	return sb.String(), nil
}

// crc16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
