package clearcore

import "math"

// RPMToStepsPerMinute converts a speed to the unit of the velocity limit
// register, rounding down.
func RPMToStepsPerMinute(rpm float64, stepsPerRevolution int) int64 {
	return int64(math.Floor(rpm * float64(stepsPerRevolution) / 60))
}

// RevolutionsToSteps truncates toward zero, so -1.5 revolutions at 3 steps
// per revolution is -4 steps.
func RevolutionsToSteps(revolutions float64, stepsPerRevolution int) int64 {
	return int64(math.Trunc(revolutions * float64(stepsPerRevolution)))
}

func StepsToRevolutions(steps int64, stepsPerRevolution int) float64 {
	return float64(steps) / float64(stepsPerRevolution)
}
