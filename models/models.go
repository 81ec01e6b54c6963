/*
 *     Copyright 2025 The Threat Modeling MLOps Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/soft_delete"
)

// BaseModel carries the columns shared by every mirror row. Rows are
// soft deleted so model lineage survives removal.
type BaseModel struct {
	ID        uint                  `gorm:"primarykey;comment:id" json:"id"`
	CreatedAt time.Time             `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time             `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updated_at"`
	IsDel     soft_delete.DeletedAt `gorm:"softDelete:flag;comment:soft delete flag" json:"is_del"`
}

// JSONMap stores free form documents (evaluation metrics, training
// configs, search parameters) as a text column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}

	ba, err := m.MarshalJSON()
	return string(ba), err
}

func (m *JSONMap) Scan(val any) error {
	ba, err := rawJSON(val)
	if err != nil {
		return err
	}

	t := map[string]any{}
	err = json.Unmarshal(ba, &t)
	*m = JSONMap(t)
	return err
}

func (m JSONMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	return json.Marshal((map[string]any)(m))
}

func (m *JSONMap) UnmarshalJSON(b []byte) error {
	t := map[string]any{}
	err := json.Unmarshal(b, &t)
	*m = JSONMap(t)
	return err
}

func (m JSONMap) GormDataType() string {
	return "jsonmap"
}

func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return "text"
}

// Array stores a string list (model tags) as a text column.
type Array []string

func (a Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}

	ba, err := a.MarshalJSON()
	return string(ba), err
}

func (a *Array) Scan(val any) error {
	ba, err := rawJSON(val)
	if err != nil {
		return err
	}

	t := []string{}
	err = json.Unmarshal(ba, &t)
	*a = Array(t)
	return err
}

func (a Array) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}

	return json.Marshal(([]string)(a))
}

func (a *Array) UnmarshalJSON(b []byte) error {
	t := []string{}
	err := json.Unmarshal(b, &t)
	*a = Array(t)
	return err
}

func (a Array) GormDataType() string {
	return "array"
}

func (Array) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return "text"
}

// rawJSON normalizes the driver value of a json column. Drivers return
// text columns as either bytes or string.
func rawJSON(val any) ([]byte, error) {
	switch v := val.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column value %v", val)
	}
}
