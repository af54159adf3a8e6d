package terminology

// ConceptTable is the bundled, read-only concept index consulted after the
// cache. Lookups are exact on (source code, source system); an entry only
// matches when its target system is the one requested.
type ConceptTable struct {
	entries map[tableKey]Translation
}

type tableKey struct {
	code, system string
}

// NewConceptTable builds a table from translations. Later duplicates replace
// earlier ones.
func NewConceptTable(translations []Translation) *ConceptTable {
	t := &ConceptTable{entries: make(map[tableKey]Translation, len(translations))}
	for _, tr := range translations {
		t.entries[tableKey{code: tr.SourceCode, system: tr.SourceSystem}] = tr
	}
	return t
}

// Lookup returns the coding for code in sourceSystem when the table maps it
// into targetSystem.
func (t *ConceptTable) Lookup(code, sourceSystem, targetSystem string) (Coding, bool) {
	if t == nil {
		return Coding{}, false
	}
	tr, ok := t.entries[tableKey{code: code, system: sourceSystem}]
	if !ok || tr.TargetSystem != targetSystem {
		return Coding{}, false
	}
	return tr.Coding(), true
}

// Len returns the number of entries.
func (t *ConceptTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// DefaultConceptTable returns the concepts bundled with the service: the
// ICD-10-CM → SNOMED CT pairs used for claim diagnoses and the HL7 v2
// patient-class → SNOMED CT encounter mappings.
func DefaultConceptTable() *ConceptTable {
	icd10SNOMEDPairs := []struct {
		icd10, snomed, display string
	}{
		{"E11.9", "44054006", "Diabetes mellitus type 2"},
		{"E10.9", "46635009", "Diabetes mellitus type 1"},
		{"I10", "38341003", "Hypertensive disorder"},
		{"J45.909", "195967001", "Asthma"},
		{"I50.9", "84114007", "Heart failure"},
		{"J44.1", "13645005", "Chronic obstructive lung disease"},
		{"I48.91", "49436004", "Atrial fibrillation"},
		{"I21.9", "22298006", "Myocardial infarction"},
		{"I63.9", "230690007", "Cerebrovascular accident"},
		{"N18.9", "709044004", "Chronic kidney disease"},
		{"G45.9", "266257000", "Transient ischemic attack"},
		{"M06.9", "69896004", "Rheumatoid arthritis"},
		{"M19.90", "396275006", "Osteoarthritis"},
		{"A09", "25374005", "Gastroenteritis"},
		{"J18.9", "233604007", "Pneumonia"},
	}

	var translations []Translation
	for _, p := range icd10SNOMEDPairs {
		translations = append(translations, Translation{
			SourceSystem: SystemICD10,
			SourceCode:   p.icd10,
			TargetSystem: SystemSNOMED,
			TargetCode:   p.snomed,
			Display:      p.display,
		})
	}

	encounterClass := []struct {
		class, snomed, display string
	}{
		{"O", "185387006", "New patient consultation"},
		{"I", "11429006", "Inpatient admission"},
		{"E", "50849002", "Emergency room admission"},
		{"P", "305408004", "Admission to surgical department"},
	}
	for _, c := range encounterClass {
		translations = append(translations, Translation{
			SourceSystem: SystemV2Class,
			SourceCode:   c.class,
			TargetSystem: SystemSNOMED,
			TargetCode:   c.snomed,
			Display:      c.display,
		})
	}

	sex := []struct {
		code, snomed, display string
	}{
		{"M", "248153007", "Male"},
		{"F", "248152002", "Female"},
	}
	for _, s := range sex {
		translations = append(translations, Translation{
			SourceSystem: SystemV2Sex,
			SourceCode:   s.code,
			TargetSystem: SystemSNOMED,
			TargetCode:   s.snomed,
			Display:      s.display,
		})
	}

	return NewConceptTable(translations)
}
