package extractor

// Category is an identity field an ID-card form key can be classified as.
type Category string

const (
	CategoryFirstname Category = "firstname"
	CategoryBirthdate Category = "birthdate"
	CategoryLastname  Category = "lastname"
)

// LabelRule maps a category to the label variants that identify it. A form
// key belongs to the category when it contains any of the labels.
type LabelRule struct {
	Category Category
	Labels   []string
}

// DefaultLabels is checked in order for every key; the first matching rule
// wins. Firstname must precede lastname: "PRÉNOM" contains "NOM".
var DefaultLabels = []LabelRule{
	{Category: CategoryFirstname, Labels: []string{"Prénom", "PRÉNOM", "Given name"}},
	{Category: CategoryBirthdate, Labels: []string{"DATE DE NAISS", "Date of birth", "Né(e) le"}},
	{Category: CategoryLastname, Labels: []string{"Nom", "NOM", "Surname"}},
}
