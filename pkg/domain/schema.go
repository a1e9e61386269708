package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Derived column names appended by the scoring stage. Downstream stages
// (statistics, charts, report, quality rules) refer to these, never to the
// raw questionnaire items.
const (
	ColTotalFamilyMembers = "total_family_members"
	ColPerCapitaIncome    = "per_capita_income"
	ColKnowledgeScore     = "knowledge_score"
	ColPracticeScore      = "practice_score"
	ColTotalScore         = "total_score"
)

// Score bounds for the derived composite scores.
const (
	KnowledgeScoreMax = 9
	PracticeScoreMax  = 7
	TotalScoreMax     = KnowledgeScoreMax + PracticeScoreMax
)

// Schema names the survey columns the pipeline reads. Every field is
// overridable from configuration so re-keyed questionnaire exports can be
// analyzed without a rebuild.
type Schema struct {
	Age                 string `yaml:"age"`
	MaternalEducation   string `yaml:"maternal_education"`
	PaternalEducation   string `yaml:"paternal_education"`
	MaternalOccupation  string `yaml:"maternal_occupation"`
	PaternalOccupation  string `yaml:"paternal_occupation"`
	IncomePerMonth      string `yaml:"income_per_month"`
	MaleFamilyMembers   string `yaml:"male_family_members"`
	FemaleFamilyMembers string `yaml:"female_family_members"`

	// KnowledgeItems are the nine awareness questions, in questionnaire
	// order. PracticeItems are the seven hygiene-practice questions.
	KnowledgeItems []string `yaml:"knowledge_items"`
	PracticeItems  []string `yaml:"practice_items"`
}

// DefaultSchema returns the column names used by the reference survey
// export. The item names carry the spelling of the source questionnaire.
func DefaultSchema() Schema {
	return Schema{
		Age:                 "Age",
		MaternalEducation:   "MotherEducation",
		PaternalEducation:   "FatherEducation",
		MaternalOccupation:  "MotherOccupation",
		PaternalOccupation:  "FatherOccupation",
		IncomePerMonth:      "IncomePerMonth",
		MaleFamilyMembers:   "MaleFamilyMembers",
		FemaleFamilyMembers: "FemaleFamilyMembers",
		KnowledgeItems: []string{
			"RangeOfUsualAgeOfMenarche",
			"WhatDoYouThinkAboutThePrecessofMensturation",
			"OrganOfBodyResponsibleForMenarche",
			"RangeOfNormalDurationOfMensturalBleeding",
			"AfterHowManyDaysDoYouMensturateEveryMonth",
			"WhichTypeOfAbsorbsentToBeUsedDuringMensturation",
			"HowManyTimePerDayClothandSanitaryPadTOBeChanged",
			"HowTheClothAndSanitaryPadToBeDisposeOF",
			"WhereTheSanitaryPadToBeDispoadOF",
		},
		PracticeItems: []string{
			"WhichTypeOfAbsorbentDoYouUseDuringMensturation",
			"UsePaperToDisposeThePadByWrapping",
			"WhereDisposeTheUsedPads",
			"HowManyTimeUsualyChangeTheClothandSanitaryPad",
			"HowManyTimesTakeBathDuringMensturation",
			"CleanYourExternalGenitaliaThroughlyWaterDuringMensturation",
			"AfterThatWashHandsWithSoapAndWater",
		},
	}
}

// Validate checks that the schema can drive the scoring stage: exactly
// one column per questionnaire item, and no column listed twice.
func (s Schema) Validate() error {
	if len(s.KnowledgeItems) != KnowledgeScoreMax {
		return fmt.Errorf("%d knowledge item columns, want %d", len(s.KnowledgeItems), KnowledgeScoreMax)
	}
	if len(s.PracticeItems) != PracticeScoreMax {
		return fmt.Errorf("%d practice item columns, want %d", len(s.PracticeItems), PracticeScoreMax)
	}
	seen := make(map[string]bool, len(s.KnowledgeItems)+len(s.PracticeItems))
	check := func(cols []string) error {
		for _, col := range cols {
			if strings.TrimSpace(col) == "" {
				return errors.New("empty item column name")
			}
			if seen[col] {
				return fmt.Errorf("item column %q listed twice", col)
			}
			seen[col] = true
		}
		return nil
	}
	if err := check(s.KnowledgeItems); err != nil {
		return err
	}
	return check(s.PracticeItems)
}

// MatchMaternalEducation reports whether a column name refers to the
// maternal education variable. Exports vary ("MotherEducation",
// "maternal_education", "Mothers Education Level"), so the match is fuzzy:
// the lowercased name must mention mother/maternal and education.
func MatchMaternalEducation(name string) bool {
	n := strings.ToLower(name)
	if !strings.Contains(n, "education") {
		return false
	}
	return strings.Contains(n, "mother") || strings.Contains(n, "maternal")
}

// DerivedColumns lists the columns the scoring stage appends, in append
// order.
func DerivedColumns() []string {
	return []string{
		ColTotalFamilyMembers,
		ColPerCapitaIncome,
		ColKnowledgeScore,
		ColPracticeScore,
		ColTotalScore,
	}
}
