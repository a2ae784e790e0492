package protocol

// schemeNames maps brush programme ids (pNum) to English names. Ids 0-2 are
// absent because they mean different programmes on different families.
var schemeNames = map[int]string{
	21:  "Sensitive Cleaning",
	23:  "Robust Cleaning",
	24:  "Beginner",
	25:  "Strong Cleaning",
	26:  "Sugary Diet Cleaning",
	27:  "Gestation Period Cleaning",
	28:  "Strong Whitening",
	30:  "Gum Care",
	31:  "Standard Quick Cleaning",
	32:  "Standard Whitening",
	34:  "Deep Cleaning",
	36:  "Braces Cleaning",
	37:  "Sensitive Cleaning",
	38:  "Robust Whitening",
	39:  "Gentle Teeth Spa",
	40:  "Teeth Spa",
	41:  "Strong Teeth Spa",
	42:  "Gentle Quick Cleaning",
	43:  "Beginner",
	44:  "Whitening",
	45:  "Gum Massage",
	46:  "Travel",
	47:  "18 Days Whitening",
	48:  "24 Days Whitening",
	49:  "Teeth Strengthening",
	50:  "Super Cleaning",
	53:  "Standard Brushing Regimen",
	72:  "Strong Cleaning",
	73:  "Super Cleaning",
	74:  "Post-Wash Sensitivity",
	75:  "Standard Whitening",
	76:  "Strong Whitening",
	77:  "Super Whitening",
	78:  "Sensitive Cleaning",
	79:  "Gentle Teeth Spa",
	80:  "Standard Teeth Spa",
	81:  "Deep Cleaning Spa",
	82:  "Gum Care Cleaning",
	83:  "Clear Your Mouth After Meals",
	84:  "Gum Massage",
	85:  "Gum Care Cleaning",
	86:  "Newbie Whitening",
	87:  "Braces Cleaning",
	88:  "Quick Cleaning",
	89:  "Travel",
	90:  "Gestation Care",
	91:  "Gentle Teeth Spa",
	92:  "Standard Teeth Spa",
	93:  "Deep Cleaning Spa",
	94:  "Newbie Whitening",
	95:  "Strong Whitening",
	96:  "Super Whitening",
	97:  "Sensitive Cleaning",
	98:  "Braces Cleaning",
	99:  "Strong Cleaning",
	100: "Super Cleaning",
	101: "Gestation Care",
	102: "Gum Care Cleaning",
	104: "Gum Care Cleaning",
}

// SchemeName resolves a programme id to its display name.
func SchemeName(pnum int) (string, bool) {
	name, ok := schemeNames[pnum]
	return name, ok
}
