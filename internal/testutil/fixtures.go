package testutil

import (
	"fmt"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// TitanicTable builds a deterministic passenger table of n rows whose
// PassengerId starts at offset+1. Two in five passengers survived; every
// seventh Age is missing.
func TitanicTable(name string, offset, n int) *core.Table {
	cols := []*core.Column{
		{Name: "PassengerId", Type: core.TypeInt},
		{Name: "Survived", Type: core.TypeInt},
		{Name: "Pclass", Type: core.TypeInt},
		{Name: "Name", Type: core.TypeString},
		{Name: "Sex", Type: core.TypeString},
		{Name: "Age", Type: core.TypeFloat},
		{Name: "SibSp", Type: core.TypeInt},
		{Name: "Parch", Type: core.TypeInt},
		{Name: "Ticket", Type: core.TypeString},
		{Name: "Fare", Type: core.TypeFloat},
		{Name: "Cabin", Type: core.TypeString},
		{Name: "Embarked", Type: core.TypeString},
	}
	for _, c := range cols {
		c.Values = make([]any, n)
	}

	ports := []string{"S", "C", "Q"}
	for i := range n {
		id := offset + i
		survived := int64(0)
		if id%5 < 2 {
			survived = 1
		}
		sex := "male"
		if id%2 == 1 {
			sex = "female"
		}
		var age any = float64(18 + id%50)
		if id%7 == 0 {
			age = nil
		}
		var cabin any
		if id%4 == 0 {
			cabin = fmt.Sprintf("C%d", id)
		}

		cols[0].Values[i] = int64(id + 1)
		cols[1].Values[i] = survived
		cols[2].Values[i] = int64(id%3 + 1)
		cols[3].Values[i] = fmt.Sprintf("Passenger %d", id+1)
		cols[4].Values[i] = sex
		cols[5].Values[i] = age
		cols[6].Values[i] = int64(id % 3)
		cols[7].Values[i] = int64(id % 2)
		cols[8].Values[i] = fmt.Sprintf("T-%05d", id)
		cols[9].Values[i] = 7.25 + float64(id%30)
		cols[10].Values[i] = cabin
		cols[11].Values[i] = ports[id%3]
	}

	return core.NewTable(name, cols...)
}
