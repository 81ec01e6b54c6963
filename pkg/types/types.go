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

package types

const (
	// MLOpsName is name of the mlops service.
	MLOpsName = "mlops"

	// MetricsNamespace is namespace of the metrics.
	MetricsNamespace = "mlops"

	// RegistryMetricsName is name of the registry metrics.
	RegistryMetricsName = "registry"

	// TrainingMetricsName is name of the training metrics.
	TrainingMetricsName = "training"

	// ExperimentMetricsName is name of the experiment metrics.
	ExperimentMetricsName = "experiment"

	// ServingMetricsName is name of the serving metrics.
	ServingMetricsName = "serving"

	// MonitoringMetricsName is name of the monitoring metrics.
	MonitoringMetricsName = "monitoring"
)
