package structure

import "strings"

const extractionPrompt = `You extract structured information from medication inventory tables and medication packaging.

Analyze the input text and extract the following details:

1. product_code: the identification or barcode of the medication
2. lot_number: the lot or batch number
3. expiration_date: when the medication expires
4. name: the primary name printed on the package
5. common_denomination: the active ingredient name
6. concentration: strength of the active ingredient
7. form: the dosage form exactly as written (solucion inyectable, tabletas, gel, ...)
8. form_simple: the dosage form reduced to one word (solucion, tableta, gel, ...)
9. brand_name: the laboratory or brand
10. country: country of origin
11. presentation: package size or volume
12. fractions: number of units per package
13. product_type: medication category if stated
14. quantity: available quantity or stock
15. price: the price

Return a single JSON object with exactly those keys. Parse the information
exactly as shown in the text. Omit keys whose value is not present; never guess.`

// buildInput joins the per-image transcriptions into the model input,
// separated so the model can tell the faces of the package apart.
func buildInput(texts []string) string {
	var kept []string
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			kept = append(kept, strings.TrimSpace(t))
		}
	}
	return strings.Join(kept, "\n\n---\n\n")
}
